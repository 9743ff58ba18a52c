package detection

import (
	"sort"

	"github.com/menta2k/image-detector/pkg/types"
)

// Defaults used by the detection backend this pipeline talks to
const (
	DefaultScoreThreshold = 0.4
	DefaultIoUThreshold   = 0.5
)

// Options controls post-processing of raw detections
type Options struct {
	MinScore   float64 // drop objects below this score, 0 keeps all
	IoU        float64 // suppression overlap, 0 disables NMS
	MaxObjects int     // 0 means unlimited
}

// DefaultOptions returns the backend defaults
func DefaultOptions() Options {
	return Options{MinScore: DefaultScoreThreshold, IoU: DefaultIoUThreshold}
}

// Postprocess filters by score, suppresses overlapping boxes and caps the
// result count. Detector order is preserved.
func Postprocess(objects []types.DetectedObject, opts Options) []types.DetectedObject {
	out := FilterByScore(objects, opts.MinScore)
	out = ApplyNMS(out, opts.IoU)
	if opts.MaxObjects > 0 && len(out) > opts.MaxObjects {
		out = out[:opts.MaxObjects]
	}
	return out
}

// FilterByScore keeps objects whose score is at least threshold
func FilterByScore(objects []types.DetectedObject, threshold float64) []types.DetectedObject {
	filtered := make([]types.DetectedObject, 0, len(objects))
	for _, o := range objects {
		if o.Score >= threshold {
			filtered = append(filtered, o)
		}
	}
	return filtered
}

// IoU returns the intersection over union of two boxes
func IoU(a, b types.NormalizedBox) float64 {
	ix := minf(a.XMax, b.XMax) - maxf(a.XMin, b.XMin)
	iy := minf(a.YMax, b.YMax) - maxf(a.YMin, b.YMin)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ApplyNMS performs class-agnostic non-maximum suppression. Higher scores
// win; the surviving objects keep the order the detector returned them in.
// A threshold <= 0 disables suppression.
func ApplyNMS(objects []types.DetectedObject, threshold float64) []types.DetectedObject {
	if threshold <= 0 || len(objects) < 2 {
		out := make([]types.DetectedObject, len(objects))
		copy(out, objects)
		return out
	}

	order := make([]int, len(objects))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return objects[order[i]].Score > objects[order[j]].Score
	})

	suppressed := make([]bool, len(objects))
	for i, idx := range order {
		if suppressed[idx] {
			continue
		}
		for _, other := range order[i+1:] {
			if !suppressed[other] && IoU(objects[idx].Box, objects[other].Box) > threshold {
				suppressed[other] = true
			}
		}
	}

	out := make([]types.DetectedObject, 0, len(objects))
	for i, o := range objects {
		if !suppressed[i] {
			out = append(out, o)
		}
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
