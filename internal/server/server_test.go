package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	jsoniter "github.com/json-iterator/go"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/config"
	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/pkg/export"
	"github.com/menta2k/image-detector/pkg/types"
)

type fakeDetector struct {
	objects []types.DetectedObject
	err     error
}

func (f *fakeDetector) Detect(ctx context.Context, img types.EncodedImage) ([]types.DetectedObject, error) {
	return f.objects, f.err
}

type fakeSegmenter struct {
	err   error
	short bool
}

func (f *fakeSegmenter) Segment(ctx context.Context, img types.EncodedImage) (*types.SegmentationMask, error) {
	if f.err != nil {
		return nil, f.err
	}
	values := make([]float64, img.Width*img.Height)
	for i := range values {
		if i%img.Width >= img.Width/2 {
			values[i] = 1
		}
	}
	if f.short {
		values = values[1:]
	}
	return &types.SegmentationMask{Width: img.Width, Height: img.Height, Values: values}, nil
}

type fakeHealth struct{ err error }

func (f fakeHealth) CheckHealth(ctx context.Context) error { return f.err }

func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	return img
}

func newTestServer(t *testing.T, det *fakeDetector, seg *fakeSegmenter, opts ...ServerOption) *Server {
	t.Helper()
	var pipelineOpts []imagedetector.Option
	if det != nil {
		pipelineOpts = append(pipelineOpts, imagedetector.WithDetector(det))
	}
	if seg != nil {
		pipelineOpts = append(pipelineOpts, imagedetector.WithSegmenter(seg))
	}
	pipeline := imagedetector.New(append(pipelineOpts, imagedetector.WithLogger(logging.Discard()))...)

	cfg := config.Default()
	cfg.Server.RateLimit = 0
	base := []ServerOption{WithLogger(logging.Discard()), WithPipeline(pipeline), WithConfig(cfg)}
	srv, err := NewServer(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func uploadRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile(UploadField, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	data, err := export.Encode(createTestImage(width, height), export.PNG())
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func do(t *testing.T, srv *Server, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func TestNewServerRequiresPipeline(t *testing.T) {
	if _, err := NewServer(WithLogger(logging.Discard())); err == nil {
		t.Error("Expected error without pipeline")
	}
	if _, err := NewServer(WithPipeline(imagedetector.New())); err == nil {
		t.Error("Expected error without logger")
	}
	if _, err := NewServer(WithConfig(nil)); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	resp, body := do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("Expected a request id header")
	}

	var health HealthResponse
	if err := jsoniter.Unmarshal(body, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Version != imagedetector.Version {
		t.Errorf("Unexpected health %+v", health)
	}

	down := newTestServer(t, nil, nil, WithHealthChecker(fakeHealth{err: errors.New("backend down")}))
	resp, _ = do(t, down, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	srv := newTestServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	resp, _ := do(t, srv, req)
	if got := resp.Header.Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected request id to be echoed, got %q", got)
	}
}

func TestDetect(t *testing.T) {
	det := &fakeDetector{objects: []types.DetectedObject{
		{Label: "dog", Score: 0.876, Box: types.NormalizedBox{XMin: 0.25, YMin: 0.5, XMax: 0.75, YMax: 1}},
	}}
	srv := newTestServer(t, det, nil)

	resp, body := do(t, srv, uploadRequest(t, "/api/v1/detect", "dog.png", pngBytes(t, 2000, 1000)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}

	var got DetectResponse
	if err := jsoniter.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Width != 1024 || got.Height != 512 || !got.Resized || got.SourceWidth != 2000 {
		t.Errorf("Unexpected dimensions %+v", got)
	}
	if len(got.Objects) != 1 {
		t.Fatalf("Expected 1 object, got %d", len(got.Objects))
	}
	obj := got.Objects[0]
	if obj.Label != "dog" || obj.Percent != 88 {
		t.Errorf("Unexpected object %+v", obj)
	}
	if obj.PixelBox.XMin != 256 || obj.PixelBox.YMin != 256 || obj.PixelBox.XMax != 768 || obj.PixelBox.YMax != 512 {
		t.Errorf("Unexpected pixel box %+v", obj.PixelBox)
	}
	if got.RequestID == "" || got.Message != "1 object detected." {
		t.Errorf("Unexpected metadata %+v", got)
	}
}

func TestDetectNoObjects(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{}, nil)
	resp, body := do(t, srv, uploadRequest(t, "/api/v1/detect", "empty.png", pngBytes(t, 50, 40)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got DetectResponse
	if err := jsoniter.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Objects) != 0 || got.Message != imagedetector.NoObjectsMessage {
		t.Errorf("Unexpected response %+v", got)
	}
	if got.Resized {
		t.Error("Expected small image not to be resized")
	}
}

func TestErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		srv    *Server
		target string
		data   []byte
		file   string
		status int
		kind   string
	}{
		{"decode", newTestServer(t, &fakeDetector{}, nil), "/api/v1/detect", []byte("not an image"), "x.png", 400, "DecodeFailure"},
		{"not an image", newTestServer(t, &fakeDetector{}, nil), "/api/v1/detect", []byte("text"), "x.txt", 400, "DecodeFailure"},
		{"inference", newTestServer(t, &fakeDetector{err: errors.New("boom")}, nil), "/api/v1/detect", nil, "x.png", 502, "InferenceFailure"},
		{"invalid mask", newTestServer(t, nil, &fakeSegmenter{short: true}), "/api/v1/background", nil, "x.png", 422, "InvalidMask"},
		{"segment failure", newTestServer(t, nil, &fakeSegmenter{err: errors.New("boom")}), "/api/v1/background", nil, "x.png", 502, "InferenceFailure"},
	}
	for _, tt := range tests {
		data := tt.data
		if data == nil {
			data = pngBytes(t, 30, 20)
		}
		resp, body := do(t, tt.srv, uploadRequest(t, tt.target, tt.file, data))
		if resp.StatusCode != tt.status {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.status, resp.StatusCode, body)
			continue
		}
		var e ErrorResponse
		if err := jsoniter.Unmarshal(body, &e); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if e.Kind != tt.kind || e.TraceID == "" || e.Error == "" {
			t.Errorf("%s: unexpected error body %+v", tt.name, e)
		}
	}
}

func TestMissingUpload(t *testing.T) {
	srv := newTestServer(t, &fakeDetector{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/detect", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	resp, _ := do(t, srv, req)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
}

func TestRender(t *testing.T) {
	det := &fakeDetector{objects: []types.DetectedObject{
		{Label: "cat", Score: 0.9, Box: types.NormalizedBox{XMin: 0.2, YMin: 0.3, XMax: 0.8, YMax: 0.9}},
	}}
	srv := newTestServer(t, det, nil)
	src := pngBytes(t, 120, 80)

	resp, body := do(t, srv, uploadRequest(t, "/api/v1/detect/render", "cat.photo.jpg", src))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "detected_cat.photo.png") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	if resp.Header.Get(ObjectCountHeader) != "1" {
		t.Errorf("Expected object count 1, got %q", resp.Header.Get(ObjectCountHeader))
	}
	drawn, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to decode render: %v", err)
	}

	resp, plainBody := do(t, srv, uploadRequest(t, "/api/v1/detect/render?overlay=false", "cat.jpg", src))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	plain, err := imaging.Decode(bytes.NewReader(plainBody))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(imaging.Clone(drawn).Pix, imaging.Clone(plain).Pix) {
		t.Error("Expected overlay=false to skip drawing")
	}
	if !bytes.Equal(imaging.Clone(plain).Pix, createTestImage(120, 80).Pix) {
		t.Error("Expected hidden overlay to return the original pixels")
	}

	resp, _ = do(t, srv, uploadRequest(t, "/api/v1/detect/render?overlay=maybe", "cat.jpg", src))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid overlay, got %d", resp.StatusCode)
	}
}

func TestBackground(t *testing.T) {
	srv := newTestServer(t, nil, &fakeSegmenter{})

	resp, body := do(t, srv, uploadRequest(t, "/api/v1/background", "portrait.jpg", pngBytes(t, 40, 20)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, body)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "no_bg_portrait.png") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}
	img, err := imaging.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	cutout := imaging.Clone(img)
	if cutout.NRGBAAt(5, 5).A != 255 || cutout.NRGBAAt(35, 5).A != 0 {
		t.Errorf("Unexpected alpha values %d %d", cutout.NRGBAAt(5, 5).A, cutout.NRGBAAt(35, 5).A)
	}

	resp, _ = do(t, srv, uploadRequest(t, "/api/v1/background?format=webp", "portrait.jpg", pngBytes(t, 40, 20)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "no_bg_portrait.webp") {
		t.Errorf("Unexpected Content-Disposition %q", cd)
	}

	resp, _ = do(t, srv, uploadRequest(t, "/api/v1/background?format=jpeg", "portrait.jpg", pngBytes(t, 40, 20)))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for jpeg cutout, got %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	pipeline := imagedetector.New(imagedetector.WithDetector(&fakeDetector{}), imagedetector.WithLogger(logging.Discard()))
	cfg := config.Default()
	cfg.Server.RateLimit = 0.001
	cfg.Server.RateBurst = 1
	srv, err := NewServer(WithLogger(logging.Discard()), WithPipeline(pipeline), WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}

	resp, _ := do(t, srv, uploadRequest(t, "/api/v1/detect", "a.png", pngBytes(t, 10, 10)))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", resp.StatusCode)
	}
	resp, _ = do(t, srv, uploadRequest(t, "/api/v1/detect", "a.png", pngBytes(t, 10, 10)))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", resp.StatusCode)
	}

	resp, _ = do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected health to bypass the limiter, got %d", resp.StatusCode)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[types.Kind]int{
		types.KindDecode:      400,
		types.KindInvalidMask: 422,
		types.KindInference:   502,
		types.KindEncoding:    500,
		types.KindUnknown:     500,
	}
	for kind, want := range tests {
		if got := StatusForKind(kind); got != want {
			t.Errorf("%v: expected %d, got %d", kind, want, got)
		}
	}
}
