package server

import (
	"strconv"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/pkg/types"
)

// ObjectResponse is one detected object
type ObjectResponse struct {
	Label    string              `json:"label"`
	Score    float64             `json:"score"`
	Percent  int                 `json:"percent"`
	Box      types.NormalizedBox `json:"box"`
	PixelBox types.PixelBox      `json:"pixel_box"`
}

// DetectResponse is the body of a successful detection
type DetectResponse struct {
	RequestID    string           `json:"request_id"`
	Width        int              `json:"width"`
	Height       int              `json:"height"`
	SourceWidth  int              `json:"source_width"`
	SourceHeight int              `json:"source_height"`
	Resized      bool             `json:"resized"`
	Objects      []ObjectResponse `json:"objects"`
	Message      string           `json:"message"`
}

// RenderQuery holds the query of /detect/render
type RenderQuery struct {
	Overlay string `query:"overlay" validate:"omitempty,boolean"`
}

// Visible reports whether the overlay should be drawn
func (q RenderQuery) Visible() bool {
	if q.Overlay == "" {
		return true
	}
	visible, err := strconv.ParseBool(q.Overlay)
	return err == nil && visible
}

// BackgroundQuery holds the query of /background
type BackgroundQuery struct {
	Format string `query:"format" validate:"omitempty,oneof=png webp"`
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Backend string `json:"backend,omitempty"`
}

func newDetectResponse(requestID string, result *imagedetector.DetectionResult) DetectResponse {
	mapped := result.Mapped()
	objects := make([]ObjectResponse, len(mapped))
	for i, m := range mapped {
		objects[i] = ObjectResponse{
			Label:    m.Label,
			Score:    m.Score,
			Percent:  m.Percent(),
			Box:      m.Box,
			PixelBox: m.Pixels,
		}
	}

	return DetectResponse{
		RequestID:    requestID,
		Width:        result.Width(),
		Height:       result.Height(),
		SourceWidth:  result.SourceWidth,
		SourceHeight: result.SourceHeight,
		Resized:      result.Resized,
		Objects:      objects,
		Message:      imagedetector.SummaryMessage(result.Objects),
	}
}
