package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizedBoxValid(t *testing.T) {
	tests := []struct {
		name string
		box  NormalizedBox
		want bool
	}{
		{"unit", NormalizedBox{0, 0, 1, 1}, true},
		{"degenerate", NormalizedBox{0.5, 0.5, 0.5, 0.5}, true},
		{"inverted", NormalizedBox{0.6, 0.1, 0.5, 0.2}, false},
		{"out of range", NormalizedBox{-0.1, 0, 0.5, 0.5}, false},
		{"pixel space", NormalizedBox{10, 20, 100, 200}, false},
	}

	for _, tt := range tests {
		if got := tt.box.Valid(); got != tt.want {
			t.Errorf("%s: expected Valid()=%v, got %v", tt.name, tt.want, got)
		}
	}
}

func TestDetectedObjectPercent(t *testing.T) {
	cases := map[float64]int{0: 0, 0.004: 0, 0.874: 87, 0.875: 88, 1: 100}
	for score, want := range cases {
		obj := DetectedObject{Label: "cat", Score: score}
		if got := obj.Percent(); got != want {
			t.Errorf("Expected %d%% for score %v, got %d%%", want, score, got)
		}
	}
}

func TestSegmentationMaskValidate(t *testing.T) {
	valid := &SegmentationMask{Width: 2, Height: 2, Values: []float64{0, 0.5, 1, 0}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Expected valid mask, got %v", err)
	}

	invalid := []*SegmentationMask{
		nil,
		{Width: 2, Height: 2},
		{Width: 2, Height: 2, Values: []float64{0, 0, 0}},
		{Width: 2, Height: 2, Values: []float64{0, 0, 0, 0, 0}},
		{Width: 0, Height: 2, Values: []float64{0}},
	}
	for i, m := range invalid {
		err := m.Validate()
		if !errors.Is(err, ErrInvalidMask) {
			t.Errorf("case %d: expected InvalidMask, got %v", i, err)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("remove background: %w", NewError(KindInvalidMask, "composite", errors.New("size mismatch")))

	if !errors.Is(err, ErrInvalidMask) {
		t.Error("Expected wrapped error to match ErrInvalidMask")
	}
	if errors.Is(err, ErrDecode) {
		t.Error("InvalidMask error should not match ErrDecode")
	}
	if KindOf(err) != KindInvalidMask {
		t.Errorf("Expected kind InvalidMask, got %s", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("Expected unclassified error to have KindUnknown")
	}
}

func TestUserMessagesAreDistinct(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range []Kind{KindDecode, KindInference, KindInvalidMask, KindEncoding} {
		msg := UserMessage(k)
		if prev, ok := seen[msg]; ok {
			t.Errorf("Kinds %s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}
