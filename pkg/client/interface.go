package client

import (
	"context"

	"github.com/menta2k/image-detector/pkg/types"
)

// VisionClient sends a prompt and an image to a multimodal chat model and
// returns the raw text answer.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// Detector is any model that returns labeled boxes for an encoded image.
// Boxes may be normalized or in the pixel space of the submitted image.
type Detector interface {
	Detect(ctx context.Context, img types.EncodedImage) ([]types.DetectedObject, error)
}

// Segmenter returns a per-pixel background-likelihood mask aligned to the
// submitted image.
type Segmenter interface {
	Segment(ctx context.Context, img types.EncodedImage) (*types.SegmentationMask, error)
}
