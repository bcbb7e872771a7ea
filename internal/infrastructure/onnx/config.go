// Package onnx runs the tabular accessibility model.
//
// The model is a single ONNX file with one float input of shape [N, F] and
// a probability output of shape [N, C]. A JSON sidecar describes how OSM
// tags map to the F input columns.
package onnx

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultInputName       = "float_input"
	defaultLabelOutput     = "output_label"
	defaultProbaOutput     = "output_probability"
	maxCategoricalValueLen = 20
)

// HasFeature is a presence bit: the column is 1 when the tag is set.
type HasFeature struct {
	Column string `json:"column"`
	Tag    string `json:"tag"`
}

// ModelConfig is the sidecar shipped next to the model file.
type ModelConfig struct {
	ModelName      string   `json:"model_name"`
	FeatureColumns []string `json:"feature_columns"`
	NClasses       int      `json:"n_classes"`
	Labels         []string `json:"labels"`
	InputName      string   `json:"input_name"`
	OutputNames    []string `json:"output_names"`

	HasFeatures []HasFeature `json:"has_features"`
	// Categorical maps tag -> value -> column.
	Categorical map[string]map[string]string `json:"categorical_features"`

	FeatureImportances map[string]float64 `json:"feature_importances"`

	EncodingInfo *struct {
		HasFeatures []HasFeature                 `json:"has_features"`
		Categorical map[string]map[string]string `json:"categorical_features"`
	} `json:"encoding_info,omitempty"`
}

func LoadModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read model config: %w", err)
	}
	return ParseModelConfig(data)
}

// ParseModelConfig accepts both the flat layout and the encoding_info
// nesting, and normalises tag names and vocabulary values.
func ParseModelConfig(data []byte) (ModelConfig, error) {
	var cfg ModelConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config: %w", err)
	}

	if cfg.EncodingInfo != nil {
		if len(cfg.HasFeatures) == 0 {
			cfg.HasFeatures = cfg.EncodingInfo.HasFeatures
		}
		if len(cfg.Categorical) == 0 {
			cfg.Categorical = cfg.EncodingInfo.Categorical
		}
		cfg.EncodingInfo = nil
	}

	if len(cfg.FeatureColumns) == 0 {
		return ModelConfig{}, fmt.Errorf("model config has no feature columns")
	}
	if cfg.NClasses == 0 {
		cfg.NClasses = len(cfg.Labels)
	}
	if cfg.NClasses < 2 {
		return ModelConfig{}, fmt.Errorf("model config declares %d classes", cfg.NClasses)
	}
	for len(cfg.Labels) < cfg.NClasses {
		cfg.Labels = append(cfg.Labels, fmt.Sprintf("class_%d", len(cfg.Labels)))
	}
	if cfg.InputName == "" {
		cfg.InputName = defaultInputName
	}
	if len(cfg.OutputNames) < 2 {
		cfg.OutputNames = []string{defaultLabelOutput, defaultProbaOutput}
	}

	for i := range cfg.HasFeatures {
		cfg.HasFeatures[i].Tag = normalizeKey(cfg.HasFeatures[i].Tag)
	}

	categorical := make(map[string]map[string]string, len(cfg.Categorical))
	for tag, vocab := range cfg.Categorical {
		values := make(map[string]string, len(vocab))
		for value, column := range vocab {
			values[normalizeValue(value)] = column
		}
		categorical[normalizeKey(tag)] = values
	}
	cfg.Categorical = categorical

	return cfg, nil
}

func normalizeKey(key string) string {
	return strings.TrimPrefix(strings.TrimSpace(key), "tags.")
}

// normalizeValue matches the training-time encoder: spaces and hyphens
// become underscores, and values are cut to 20 characters.
func normalizeValue(value string) string {
	value = strings.NewReplacer(" ", "_", "-", "_").Replace(value)
	if r := []rune(value); len(r) > maxCategoricalValueLen {
		value = string(r[:maxCategoricalValueLen])
	}
	return value
}
