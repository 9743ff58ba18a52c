package detection

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/menta2k/image-detector/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)

// SanitizeModelJSON removes code fences, comments and trailing commas that
// chat models like to add around JSON, and keeps only the outermost object
// or array.
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = stripComments(raw)
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	openTok, closeTok := "{", "}"
	if o, a := strings.Index(raw, "{"), strings.Index(raw, "["); a >= 0 && (o < 0 || a < o) {
		openTok, closeTok = "[", "]"
	}
	if start := strings.Index(raw, openTok); start >= 0 {
		if end := strings.LastIndex(raw, closeTok); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// stripComments removes // and /* */ comments outside of string literals
func stripComments(raw string) string {
	var sb strings.Builder
	sb.Grow(len(raw))

	inString, escaped := false, false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			sb.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '/' && i+1 < len(raw) {
			switch raw[i+1] {
			case '/':
				for i < len(raw) && raw[i] != '\n' {
					i++
				}
				if i < len(raw) {
					sb.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(raw[i+2:], "*/")
				if end < 0 {
					return sb.String()
				}
				i += end + 3
				continue
			}
		}
		if ch == '"' {
			inString = true
		}
		sb.WriteByte(ch)
	}
	return sb.String()
}

// rawBox accepts corner boxes (xmin/ymin/xmax/ymax) as well as the
// origin-and-size form (x/y/w/h) some vision models prefer.
type rawBox struct {
	XMin *float64 `json:"xmin"`
	YMin *float64 `json:"ymin"`
	XMax *float64 `json:"xmax"`
	YMax *float64 `json:"ymax"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	W    *float64 `json:"w"`
	H    *float64 `json:"h"`
}

type rawObject struct {
	Label      string   `json:"label"`
	Score      *float64 `json:"score"`
	Confidence *float64 `json:"confidence"`
	Box        rawBox   `json:"box"`
}

type rawResponse struct {
	Objects    []rawObject `json:"objects"`
	Detections []rawObject `json:"detections"`
	Error      string      `json:"error"`
}

// ParseObjects decodes detector output. It accepts a bare array of objects,
// or an object holding them under "objects" or "detections". A body carrying
// an "error" field, or one that cannot be parsed, is an InferenceFailure.
func ParseObjects(raw string) ([]types.DetectedObject, error) {
	clean := SanitizeModelJSON(raw)
	if clean == "" {
		return nil, types.Errorf(types.KindInference, "parse detections", "empty response")
	}

	var items []rawObject
	switch clean[0] {
	case '[':
		if err := json.UnmarshalFromString(clean, &items); err != nil {
			return nil, types.NewError(types.KindInference, "parse detections", err)
		}
	case '{':
		var resp rawResponse
		if err := json.UnmarshalFromString(clean, &resp); err != nil {
			return nil, types.NewError(types.KindInference, "parse detections", err)
		}
		if resp.Error != "" {
			return nil, types.Errorf(types.KindInference, "detect", "service error: %s", resp.Error)
		}
		items = resp.Objects
		if items == nil {
			items = resp.Detections
		}
	default:
		return nil, types.Errorf(types.KindInference, "parse detections", "no JSON found in response")
	}

	objects := make([]types.DetectedObject, 0, len(items))
	for i, it := range items {
		obj, err := it.toObject()
		if err != nil {
			return nil, types.NewError(types.KindInference, "parse detections", fmt.Errorf("object %d: %w", i, err))
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func (r rawObject) toObject() (types.DetectedObject, error) {
	obj := types.DetectedObject{Label: strings.TrimSpace(r.Label)}
	switch {
	case r.Score != nil:
		obj.Score = *r.Score
	case r.Confidence != nil:
		obj.Score = *r.Confidence
	}
	if obj.Label == "" {
		obj.Label = "object"
	}

	b := r.Box
	switch {
	case b.XMin != nil && b.YMin != nil && b.XMax != nil && b.YMax != nil:
		obj.Box = types.NormalizedBox{XMin: *b.XMin, YMin: *b.YMin, XMax: *b.XMax, YMax: *b.YMax}
	case b.X != nil && b.Y != nil && b.W != nil && b.H != nil:
		obj.Box = types.NormalizedBox{XMin: *b.X, YMin: *b.Y, XMax: *b.X + *b.W, YMax: *b.Y + *b.H}
	default:
		return obj, fmt.Errorf("box for %q is missing coordinates", obj.Label)
	}
	return obj, nil
}
