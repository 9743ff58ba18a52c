package detection

import (
	"errors"
	"math"
	"testing"

	"github.com/menta2k/image-detector/pkg/types"
)

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"objects":[]}`, `{"objects":[]}`},
		{"fenced", "```json\n{\"objects\":[]}\n```", `{"objects":[]}`},
		{"prose around", `Sure! {"a":1} Hope this helps.`, `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"block comment", `{"a":/* note */1}`, `{"a":1}`},
		{"array", "```\n[{\"label\":\"x\"}]\n```", `[{"label":"x"}]`},
		{"url kept", `{"u":"http://x/y"}`, `{"u":"http://x/y"}`},
		{"slashes in string", `{"label":"a // b"}`, `{"label":"a // b"}`},
		{"escaped quote", `{"label":"say \"hi\" // x"}`, `{"label":"say \"hi\" // x"}`},
		{"inline comment", "{\"a\":1, // one\n\"b\":2}", "{\"a\":1, \n\"b\":2}"},
		{"line comment", "{\n// objects\n\"a\":1}", "{\n\n\"a\":1}"},
		{"comment marker in string", `{"a":"/* keep */"}`, `{"a":"/* keep */"}`},
	}
	for _, tt := range tests {
		if got := SanitizeModelJSON(tt.in); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.want, got)
		}
	}
}

func TestParseObjectsArray(t *testing.T) {
	raw := `[
		{"label": "dog", "score": 0.91, "box": {"xmin": 10, "ymin": 20, "xmax": 200, "ymax": 180}},
		{"label": "cat", "score": 0.55, "box": {"xmin": 0.1, "ymin": 0.2, "xmax": 0.5, "ymax": 0.6}}
	]`
	got, err := ParseObjects(raw)
	if err != nil {
		t.Fatalf("ParseObjects failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 objects, got %d", len(got))
	}
	if got[0].Label != "dog" || got[0].Score != 0.91 || got[0].Box.XMax != 200 {
		t.Errorf("Unexpected first object %+v", got[0])
	}
}

func TestParseObjectsWrapped(t *testing.T) {
	for _, raw := range []string{
		`{"objects":[{"label":"car","confidence":0.7,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}}]}`,
		`{"detections":[{"label":"car","score":0.7,"box":{"xmin":0.1,"ymin":0.2,"xmax":0.4,"ymax":0.6}}]}`,
	} {
		got, err := ParseObjects(raw)
		if err != nil {
			t.Fatalf("ParseObjects(%s) failed: %v", raw, err)
		}
		if len(got) != 1 || got[0].Score != 0.7 {
			t.Fatalf("Unexpected result %+v", got)
		}
		b := got[0].Box
		if b.XMin != 0.1 || b.YMin != 0.2 || math.Abs(b.XMax-0.4) > 1e-9 || math.Abs(b.YMax-0.6) > 1e-9 {
			t.Errorf("Unexpected box %+v", b)
		}
	}
}

func TestParseObjectsLabelWithSlashes(t *testing.T) {
	raw := `{"objects": [
		// one object
		{"label": "sign // exit", "score": 0.8, "box": {"xmin": 0.1, "ymin": 0.1, "xmax": 0.3, "ymax": 0.3}} // trailing note
	]}`
	got, err := ParseObjects(raw)
	if err != nil {
		t.Fatalf("ParseObjects failed: %v", err)
	}
	if len(got) != 1 || got[0].Label != "sign // exit" {
		t.Errorf("Unexpected result %+v", got)
	}
}

func TestParseObjectsEmpty(t *testing.T) {
	got, err := ParseObjects(`{"objects": []}`)
	if err != nil {
		t.Fatalf("Expected empty list to be valid, got %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no objects, got %d", len(got))
	}
}

func TestParseObjectsFailures(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"prose":         "I see a dog on a couch.",
		"service error": `{"error": "Invalid image"}`,
		"broken":        `{"objects": [{"label": "x", "box": }]}`,
		"missing box":   `[{"label": "x", "score": 0.5}]`,
	}
	for name, raw := range cases {
		_, err := ParseObjects(raw)
		if !errors.Is(err, types.ErrInference) {
			t.Errorf("%s: expected InferenceFailure, got %v", name, err)
		}
	}
}
