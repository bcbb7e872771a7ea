package onnx

import (
	"sort"
	"strings"
	"unicode"

	"places_service/internal/domain/model"
)

// Encoder maps tag sets onto the model's fixed-width input vector.
type Encoder struct {
	cfg     ModelConfig
	columns map[string]int
}

func NewEncoder(cfg ModelConfig) *Encoder {
	columns := make(map[string]int, len(cfg.FeatureColumns))
	for i, c := range cfg.FeatureColumns {
		columns[c] = i
	}
	return &Encoder{cfg: cfg, columns: columns}
}

func (e *Encoder) Width() int {
	return len(e.cfg.FeatureColumns)
}

// Encode returns one input row. Columns the config does not mention stay 0.
func (e *Encoder) Encode(tags map[string]string) []float32 {
	row := make([]float32, e.Width())
	e.encodeInto(row, normalizeTags(tags))
	return row
}

// EncodeBatch returns a row-major [len(batch), Width()] buffer.
func (e *Encoder) EncodeBatch(batch []map[string]string) []float32 {
	width := e.Width()
	out := make([]float32, len(batch)*width)
	for i, tags := range batch {
		e.encodeInto(out[i*width:(i+1)*width], normalizeTags(tags))
	}
	return out
}

func (e *Encoder) encodeInto(row []float32, tags map[string]string) {
	for _, hf := range e.cfg.HasFeatures {
		if v := lookup(tags, hf.Tag); v != "" {
			e.set(row, hf.Column)
		}
	}
	for tag, vocab := range e.cfg.Categorical {
		v := lookup(tags, tag)
		if v == "" {
			continue
		}
		if column, ok := vocab[normalizeValue(v)]; ok {
			e.set(row, column)
		}
	}
}

func (e *Encoder) set(row []float32, column string) {
	if i, ok := e.columns[column]; ok {
		row[i] = 1
	}
}

// Contributors returns the active columns with a positive stored
// importance, most important first.
func (e *Encoder) Contributors(row []float32, limit int) []model.Contributor {
	out := []model.Contributor{}
	for i, v := range row {
		if v == 0 {
			continue
		}
		column := e.cfg.FeatureColumns[i]
		if imp := e.cfg.FeatureImportances[column]; imp > 0 {
			out = append(out, model.Contributor{Feature: column, Name: DisplayName(column), Importance: imp})
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Importance != out[b].Importance {
			return out[a].Importance > out[b].Importance
		}
		return out[a].Feature < out[b].Feature
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// normalizeTags strips the "tags." key prefix. Values are left as they are;
// the categorical lookup normalises them.
func normalizeTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[normalizeKey(k)] = strings.TrimSpace(v)
	}
	return out
}

// lookup also tries the underscore spelling of colon keys, e.g.
// toilets:wheelchair for toilets_wheelchair.
func lookup(tags map[string]string, key string) string {
	if v, ok := tags[key]; ok {
		return v
	}
	if strings.Contains(key, "_") {
		if v, ok := tags[strings.ReplaceAll(key, "_", ":")]; ok {
			return v
		}
	}
	return tags[strings.ReplaceAll(key, ":", "_")]
}

// DisplayName turns a column name into a label, e.g. amenity_restaurant
// becomes "Amenity: Restaurant" and has_ramp becomes "Has Ramp".
func DisplayName(column string) string {
	if rest, ok := strings.CutPrefix(column, "has_"); ok {
		return "Has " + titleWords(rest)
	}
	tag, value, ok := strings.Cut(column, "_")
	if !ok {
		return titleWords(column)
	}
	return titleWords(tag) + ": " + titleWords(value)
}

func titleWords(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == ':' })
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
