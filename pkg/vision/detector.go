// Package vision finds visually salient regions without a model. It backs
// the offline "saliency" detector used for demos and tests.
package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/menta2k/image-detector/pkg/detection"
	"github.com/menta2k/image-detector/pkg/raster"
	"github.com/menta2k/image-detector/pkg/types"
)

// SubjectLabel is the label given to every salient region
const SubjectLabel = "subject"

// SubjectDetector provides functionality to detect subjects/important regions in images
type SubjectDetector struct {
	config  DetectionConfig
	decoder *raster.Rasterizer
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64 // minimum mean saliency of a region
	ContrastWeight  float64 // weight of local edge strength
	ColorWeight     float64 // weight of brightness distance from the image mean
	MinSubjectRatio float64 // minimum region area as a fraction of the image
	MaxSubjects     int
	OverlapIoU      float64 // regions overlapping more than this are merged away
}

// DefaultConfig returns the default detection parameters
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.3,
		ColorWeight:     0.2,
		MinSubjectRatio: 0.02,
		MaxSubjects:     5,
		OverlapIoU:      0.3,
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	if config.MaxSubjects <= 0 {
		config.MaxSubjects = DefaultConfig().MaxSubjects
	}
	return &SubjectDetector{config: config, decoder: raster.New()}
}

// Region represents a rectangular region of interest
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Box returns the region as a normalized box of a w x h image
func (r Region) Box(w, h int) types.NormalizedBox {
	fw, fh := float64(w), float64(h)
	return types.NormalizedBox{
		XMin: float64(r.X) / fw,
		YMin: float64(r.Y) / fh,
		XMax: float64(r.X+r.Width) / fw,
		YMax: float64(r.Y+r.Height) / fh,
	}
}

// Detect implements client.Detector. Boxes are normalized; the strongest
// region scores 1.
func (d *SubjectDetector) Detect(ctx context.Context, img types.EncodedImage) ([]types.DetectedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decoded, err := d.decoder.Decode(img.Data)
	if err != nil {
		return nil, types.NewError(types.KindInference, "saliency detect", err)
	}

	regions, err := d.DetectSubjects(ctx, decoded)
	if err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		return []types.DetectedObject{}, nil
	}

	w, h := decoded.Bounds().Dx(), decoded.Bounds().Dy()
	best := regions[0].Score
	objects := make([]types.DetectedObject, 0, len(regions))
	for _, r := range regions {
		objects = append(objects, types.DetectedObject{
			Label: SubjectLabel,
			Score: r.Score / best,
			Box:   r.Box(w, h),
		})
	}

	objects = detection.ApplyNMS(objects, d.config.OverlapIoU)
	if len(objects) > d.config.MaxSubjects {
		objects = objects[:d.config.MaxSubjects]
	}
	return objects, nil
}

// DetectSubjects returns salient regions of img ordered by score
func (d *SubjectDetector) DetectSubjects(ctx context.Context, img *image.NRGBA) ([]Region, error) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width < 3 || height < 3 {
		return nil, nil
	}

	table := newSumTable(d.calculateSaliencyMap(img), width, height)

	regions, err := d.findImportantRegions(ctx, table, width, height)
	if err != nil {
		return nil, err
	}
	return d.filterAndScoreRegions(regions, width, height), nil
}

// calculateSaliencyMap combines edge strength with distance from the mean
// brightness. A flat image has no saliency.
func (d *SubjectDetector) calculateSaliencyMap(img *image.NRGBA) []float64 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	brightness := make([]float64, width*height)
	var mean float64
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			v := (float64(row[x*4]) + float64(row[x*4+1]) + float64(row[x*4+2])) / (3 * 255)
			brightness[y*width+x] = v
			mean += v
		}
	}
	mean /= float64(width * height)

	neighbors := [8][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	saliency := make([]float64, width*height)
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := y*img.Stride + x*4
			r1, g1, b1 := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])

			var edgeStrength float64
			for _, o := range neighbors {
				j := (y+o[1])*img.Stride + (x+o[0])*4
				dr := r1 - float64(img.Pix[j])
				dg := g1 - float64(img.Pix[j+1])
				db := b1 - float64(img.Pix[j+2])
				edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
			}
			edgeStrength /= 8 * 255

			contrast := math.Abs(brightness[y*width+x] - mean)
			saliency[y*width+x] = d.config.ContrastWeight*edgeStrength + d.config.ColorWeight*contrast
		}
	}
	return saliency
}

func (d *SubjectDetector) findImportantRegions(ctx context.Context, table *sumTable, width, height int) ([]Region, error) {
	var regions []Region

	minSide := width
	if height < minSide {
		minSide = height
	}

	for _, div := range []int{8, 6, 4, 3, 2} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		windowSize := minSide / div
		if windowSize < 8 {
			continue
		}
		step := windowSize / 4
		if step < 1 {
			step = 1
		}

		for y := 0; y <= height-windowSize; y += step {
			for x := 0; x <= width-windowSize; x += step {
				score := table.mean(x, y, windowSize, windowSize)
				if score > d.config.EdgeThreshold {
					regions = append(regions, Region{X: x, Y: y, Width: windowSize, Height: windowSize, Score: score})
				}
			}
		}
	}
	return regions, nil
}

func (d *SubjectDetector) filterAndScoreRegions(regions []Region, imageWidth, imageHeight int) []Region {
	minArea := int(float64(imageWidth*imageHeight) * d.config.MinSubjectRatio)

	filtered := make([]Region, 0, len(regions))
	for _, region := range regions {
		if region.Area() >= minArea {
			filtered = append(filtered, region)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered
}

// sumTable answers rectangle sums in constant time
type sumTable struct {
	width int
	sums  []float64
}

func newSumTable(values []float64, width, height int) *sumTable {
	stride := width + 1
	sums := make([]float64, stride*(height+1))
	for y := 0; y < height; y++ {
		var row float64
		for x := 0; x < width; x++ {
			row += values[y*width+x]
			sums[(y+1)*stride+x+1] = sums[y*stride+x+1] + row
		}
	}
	return &sumTable{width: width, sums: sums}
}

func (t *sumTable) mean(x, y, w, h int) float64 {
	stride := t.width + 1
	total := t.sums[(y+h)*stride+x+w] - t.sums[y*stride+x+w] - t.sums[(y+h)*stride+x] + t.sums[y*stride+x]
	return total / float64(w*h)
}
