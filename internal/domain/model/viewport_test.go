package model

import (
	"errors"
	"testing"
)

func TestParseViewport(t *testing.T) {
	v, err := ParseViewport("50.44, 30.51, 50.46, 30.54", 16)
	if err != nil {
		t.Fatalf("ParseViewport() error = %v", err)
	}
	if v.South != 50.44 || v.East != 30.54 || v.Zoom != 16 {
		t.Errorf("viewport = %+v", v)
	}
	if v.BBox() != "50.44,30.51,50.46,30.54" {
		t.Errorf("BBox() = %q", v.BBox())
	}
}

func TestViewportValidate(t *testing.T) {
	tests := []struct {
		name string
		v    Viewport
	}{
		{"south above north", Viewport{South: 51, West: 30, North: 50, East: 31, Zoom: 16}},
		{"west east swapped", Viewport{South: 50, West: 31, North: 51, East: 30, Zoom: 16}},
		{"latitude range", Viewport{South: -91, West: 0, North: 0, East: 1, Zoom: 16}},
		{"longitude range", Viewport{South: 0, West: 0, North: 1, East: 181, Zoom: 16}},
		{"zoom range", Viewport{South: 0, West: 0, North: 1, East: 1, Zoom: 21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.v.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Validate() = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestParseViewportRejectsMalformed(t *testing.T) {
	for _, in := range []string{"1,2,3", "a,b,c,d", ""} {
		if _, err := ParseViewport(in, 15); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("ParseViewport(%q) error = %v", in, err)
		}
	}
}

func TestFilterSet(t *testing.T) {
	f := NewFilterSet(TierNo, TierYes, TierNo, TierUnknown)
	want := FilterSet{TierYes, TierUnknown, TierNo}
	if len(f) != len(want) {
		t.Fatalf("NewFilterSet() = %v, want %v", f, want)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("NewFilterSet() = %v, want canonical order %v", f, want)
		}
	}
	if f.All() {
		t.Error("partial set reported as All")
	}
	if !NewFilterSet(AllTiers...).All() {
		t.Error("full set not reported as All")
	}
	if known := f.Known(); len(known) != 2 || known[0] != TierYes || known[1] != TierNo {
		t.Errorf("Known() = %v", known)
	}
	if !NewFilterSet().Empty() {
		t.Error("empty set not Empty")
	}
}

func TestParseFilterSet(t *testing.T) {
	f, err := ParseFilterSet([]string{"Yes", " limited "})
	if err != nil {
		t.Fatal(err)
	}
	if !f.Has(TierYes) || !f.Has(TierLimited) || len(f) != 2 {
		t.Errorf("ParseFilterSet() = %v", f)
	}
	if _, err := ParseFilterSet([]string{"maybe"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("unknown tier error = %v", err)
	}
}

func TestConfidenceFor(t *testing.T) {
	tests := []struct {
		p    float64
		want Confidence
	}{
		{0.99, ConfidenceHigh},
		{0.851, ConfidenceHigh},
		{0.85, ConfidenceMedium},
		{0.66, ConfidenceMedium},
		{0.65, ConfidenceLow},
		{0.2, ConfidenceLow},
	}
	for _, tt := range tests {
		if got := ConfidenceFor(tt.p); got != tt.want {
			t.Errorf("ConfidenceFor(%v) = %q, want %q", tt.p, got, tt.want)
		}
	}
}
