package detection

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-detector/pkg/client"
	"github.com/menta2k/image-detector/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// DefaultPrompt asks a vision model for every object it can locate
const DefaultPrompt = `You are an object detector.

Return JSON only:
{
  "objects": [
    {"label": "string", "score": 0.0, "box": {"xmin": 0.0, "ymin": 0.0, "xmax": 0.0, "ymax": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels), relative to the full image.
- xmin < xmax and ymin < ymax. Boxes must tightly enclose each object.
- score is your confidence in [0,1].
- Labels: lowercase common nouns in singular form ("person", "dog", "car").
- List each distinct object once. At most 20 objects.
- If nothing is visible, return {"objects": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionDetector locates objects by prompting a multimodal chat model
type VisionDetector struct {
	client client.VisionClient
	model  string
	prompt string
	logger logrus.FieldLogger
}

// NewVisionDetector creates a detector that queries model through c
func NewVisionDetector(c client.VisionClient, model string) *VisionDetector {
	return &VisionDetector{
		client: c,
		model:  model,
		prompt: DefaultPrompt,
		logger: logrus.StandardLogger(),
	}
}

// WithPrompt replaces the detection prompt
func (d *VisionDetector) WithPrompt(prompt string) *VisionDetector {
	if strings.TrimSpace(prompt) != "" {
		d.prompt = prompt
	}
	return d
}

// WithLogger sets the logger used for model diagnostics
func (d *VisionDetector) WithLogger(l logrus.FieldLogger) *VisionDetector {
	if l != nil {
		d.logger = l
	}
	return d
}

// Detect implements client.Detector
func (d *VisionDetector) Detect(ctx context.Context, img types.EncodedImage) ([]types.DetectedObject, error) {
	if len(img.Data) == 0 {
		return nil, types.Errorf(types.KindInference, "detect", "no image data")
	}

	raw, err := d.client.Query(ctx, d.model, d.prompt, base64.StdEncoding.EncodeToString(img.Data))
	if err != nil {
		return nil, types.NewError(types.KindInference, "detect", err)
	}

	objects, err := ParseObjects(raw)
	if err != nil {
		d.logger.WithField("model", d.model).WithError(err).Debugf("unparseable model answer: %.200q", raw)
		return nil, err
	}

	for i := range objects {
		objects[i].Label = strings.ToLower(objects[i].Label)
	}
	return objects, nil
}

// TestVision checks that the model can actually see the image
func (d *VisionDetector) TestVision(ctx context.Context, img types.EncodedImage) (string, error) {
	answer, err := d.client.Query(ctx, d.model, SimpleTestPrompt, base64.StdEncoding.EncodeToString(img.Data))
	if err != nil {
		return "", types.NewError(types.KindInference, "test vision", err)
	}
	return answer, nil
}
