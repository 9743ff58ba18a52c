package imagedetector

import (
	"context"
	"errors"
	"image"
	"sync"

	"github.com/menta2k/image-detector/pkg/export"
	"github.com/menta2k/image-detector/pkg/types"
)

var (
	// ErrStale is returned when the selected image changed while a run was
	// in flight. The result is discarded.
	ErrStale = errors.New("image selection changed during the run")

	// ErrNoImage is returned when no image is selected
	ErrNoImage = errors.New("no image selected")

	// ErrNoResult is returned when there is nothing to export yet
	ErrNoResult = errors.New("no result available")
)

// Notifier receives user-facing failure notifications
type Notifier interface {
	Notify(kind types.Kind, message string)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(kind types.Kind, message string)

// Notify calls f
func (f NotifierFunc) Notify(kind types.Kind, message string) { f(kind, message) }

// Session tracks the currently selected image and the results computed for
// it. Results are tagged with the generation of the selection they were
// started for and are only committed while that generation is current.
type Session struct {
	pipeline *ImageDetector
	notifier Notifier

	mu             sync.Mutex
	generation     uint64
	name           string
	data           []byte
	detection      *DetectionResult
	cutout         *image.NRGBA
	overlayVisible bool

	// onExport runs after an export has read its state
	onExport func()
}

// NewSession creates an empty session. notifier may be nil.
func NewSession(pipeline *ImageDetector, notifier Notifier) *Session {
	if pipeline == nil {
		pipeline = New()
	}
	return &Session{
		pipeline:       pipeline,
		notifier:       notifier,
		overlayVisible: true,
	}
}

// Select replaces the current image and drops all results
func (s *Session) Select(name string, data []byte) uint64 {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.name = name
	s.data = buf
	s.detection = nil
	s.cutout = nil
	return s.generation
}

// Clear drops the current image and all results
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.name = ""
	s.data = nil
	s.detection = nil
	s.cutout = nil
}

// Generation returns the current selection generation
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Name returns the file name of the selected image
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// HasImage reports whether an image is selected
func (s *Session) HasImage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data) > 0
}

func (s *Session) snapshot() (uint64, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return 0, nil, ErrNoImage
	}
	return s.generation, s.data, nil
}

// Detect runs detection on the selected image. On failure the previous
// detection is kept and the notifier is told once.
func (s *Session) Detect(ctx context.Context) (*DetectionResult, error) {
	gen, data, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	src, err := s.pipeline.Decode(data)
	var result *DetectionResult
	if err == nil {
		result, err = s.pipeline.Detect(ctx, src)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, ErrStale
	}
	if err == nil {
		s.detection = result
	}
	s.mu.Unlock()

	if err != nil {
		s.notify(err)
		return nil, err
	}
	return result, nil
}

// RemoveBackground runs background removal on the selected image. The
// detection state is not touched.
func (s *Session) RemoveBackground(ctx context.Context) (*image.NRGBA, error) {
	gen, data, err := s.snapshot()
	if err != nil {
		return nil, err
	}

	src, err := s.pipeline.Decode(data)
	var cutout *image.NRGBA
	if err == nil {
		cutout, err = s.pipeline.RemoveBackground(ctx, src)
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return nil, ErrStale
	}
	if err == nil {
		s.cutout = cutout
	}
	s.mu.Unlock()

	if err != nil {
		s.notify(err)
		return nil, err
	}
	return cutout, nil
}

// notify reports err once. Cancellation is the caller's own doing and is
// not reported.
func (s *Session) notify(err error) {
	if s.notifier == nil || errors.Is(err, context.Canceled) {
		return
	}
	kind := types.KindOf(err)
	s.notifier.Notify(kind, types.UserMessage(kind))
}

// SetOverlayVisible toggles the detection overlay
func (s *Session) SetOverlayVisible(visible bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlayVisible = visible
}

// OverlayVisible reports whether the overlay is shown
func (s *Session) OverlayVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlayVisible
}

// Detection returns the last committed detection, or nil
func (s *Session) Detection() *DetectionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detection
}

// Cutout returns the last committed cutout, or nil
func (s *Session) Cutout() *image.NRGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutout
}

// Rendered draws the committed detection with the current overlay setting.
// No inference is performed.
func (s *Session) Rendered() (*image.NRGBA, error) {
	s.mu.Lock()
	det, visible := s.detection, s.overlayVisible
	s.mu.Unlock()

	return s.render(det, visible)
}

func (s *Session) render(det *DetectionResult, visible bool) (*image.NRGBA, error) {
	if det == nil {
		return nil, ErrNoResult
	}
	return s.pipeline.Render(det.Canvas, det.Objects, visible)
}

// ExportDetection encodes the rendered detection as PNG. The file is named
// after the image the detection was computed for.
func (s *Session) ExportDetection() (string, []byte, error) {
	s.mu.Lock()
	det, visible, name := s.detection, s.overlayVisible, s.name
	s.mu.Unlock()
	s.exported()

	img, err := s.render(det, visible)
	if err != nil {
		return "", nil, err
	}
	data, err := export.Encode(img, export.PNG())
	if err != nil {
		s.notify(err)
		return "", nil, err
	}
	return export.DetectedFilename(name), data, nil
}

// ExportCutout encodes the committed cutout as PNG with transparency
func (s *Session) ExportCutout() (string, []byte, error) {
	s.mu.Lock()
	cutout, name := s.cutout, s.name
	s.mu.Unlock()
	s.exported()

	if cutout == nil {
		return "", nil, ErrNoResult
	}
	data, err := export.EncodeAlpha(cutout, export.PNG())
	if err != nil {
		s.notify(err)
		return "", nil, err
	}
	return export.NoBackgroundFilename(name), data, nil
}

func (s *Session) exported() {
	if s.onExport != nil {
		s.onExport()
	}
}
