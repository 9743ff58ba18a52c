// Package inference talks to an HTTP model service that exposes object
// detection and segmentation endpoints.
package inference

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/image-detector/pkg/detection"
	"github.com/menta2k/image-detector/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the service endpoints
type Config struct {
	BaseURL          string
	DetectPath       string
	SegmentPath      string
	HealthPath       string
	FieldName        string // multipart field carrying the image
	Timeout          time.Duration
	MaxResponseBytes int64
}

// DefaultConfig returns settings for a service on localhost:8000
func DefaultConfig() Config {
	return Config{
		BaseURL:          "http://localhost:8000",
		DetectPath:       "/detect",
		SegmentPath:      "/segment",
		HealthPath:       "/health",
		FieldName:        "file",
		Timeout:          60 * time.Second,
		MaxResponseBytes: 64 << 20,
	}
}

// Client implements client.Detector and client.Segmenter over HTTP
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logrus.FieldLogger
}

// NewClient creates a client for the service at baseURL
func NewClient(baseURL string) *Client {
	cfg := DefaultConfig()
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return NewClientWithConfig(cfg)
}

// NewClientWithConfig creates a client with custom configuration
func NewClientWithConfig(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.DetectPath == "" {
		cfg.DetectPath = def.DetectPath
	}
	if cfg.SegmentPath == "" {
		cfg.SegmentPath = def.SegmentPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}
	if cfg.FieldName == "" {
		cfg.FieldName = def.FieldName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = def.MaxResponseBytes
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logrus.StandardLogger(),
	}
}

// WithLogger sets the logger used for request diagnostics
func (c *Client) WithLogger(l logrus.FieldLogger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

// BaseURL returns the service address
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Detect uploads img to the detection endpoint. Boxes are returned as the
// service sent them, normalized or in pixels of img.
func (c *Client) Detect(ctx context.Context, img types.EncodedImage) ([]types.DetectedObject, error) {
	body, err := c.upload(ctx, c.config.DetectPath, img)
	if err != nil {
		return nil, types.NewError(types.KindInference, "detect", err)
	}
	objects, err := detection.ParseObjects(string(body))
	if err != nil {
		return nil, err
	}
	c.logger.WithField("objects", len(objects)).Debug("detection service answered")
	return objects, nil
}

type segmentResponse struct {
	Width  int                 `json:"width"`
	Height int                 `json:"height"`
	Mask   jsoniter.RawMessage `json:"mask"`
	Error  string              `json:"error"`
}

// Segment uploads img to the segmentation endpoint. The mask may be sent
// flat (row-major) or as a list of rows.
func (c *Client) Segment(ctx context.Context, img types.EncodedImage) (*types.SegmentationMask, error) {
	body, err := c.upload(ctx, c.config.SegmentPath, img)
	if err != nil {
		return nil, types.NewError(types.KindInference, "segment", err)
	}

	var resp segmentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, types.NewError(types.KindInference, "segment", fmt.Errorf("decode response: %w", err))
	}
	if resp.Error != "" {
		return nil, types.Errorf(types.KindInference, "segment", "service error: %s", resp.Error)
	}

	values, rows, err := decodeMask(resp.Mask)
	if err != nil {
		return nil, types.NewError(types.KindInvalidMask, "segment", err)
	}

	m := &types.SegmentationMask{Width: resp.Width, Height: resp.Height, Values: values}
	switch {
	case rows > 0 && m.Height == 0 && len(values) > 0:
		m.Height = rows
		m.Width = len(values) / rows
	case rows == 0 && m.Width == 0 && m.Height == 0:
		// flat masks without dimensions are aligned to the uploaded image
		m.Width, m.Height = img.Width, img.Height
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeMask(raw jsoniter.RawMessage) ([]float64, int, error) {
	if len(raw) == 0 {
		return nil, 0, fmt.Errorf("response has no mask")
	}

	var flat []float64
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, 0, nil
	}

	var nested [][]float64
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, 0, fmt.Errorf("decode mask: %w", err)
	}
	if len(nested) == 0 {
		return nil, 0, nil
	}
	width := len(nested[0])
	values := make([]float64, 0, width*len(nested))
	for i, row := range nested {
		if len(row) != width {
			return nil, 0, fmt.Errorf("mask row %d has %d values, expected %d", i, len(row), width)
		}
		values = append(values, row...)
	}
	return values, len(nested), nil
}

// CheckHealth verifies that the service is reachable
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+c.config.HealthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.NewError(types.KindInference, "health", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return types.Errorf(types.KindInference, "health", "service unhealthy: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) upload(ctx context.Context, path string, img types.EncodedImage) ([]byte, error) {
	if len(img.Data) == 0 {
		return nil, fmt.Errorf("no image data")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.config.FieldName, img.Filename()))
	header.Set("Content-Type", img.ContentType())
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.config.MaxResponseBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", c.config.MaxResponseBytes)
	}

	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"status":   resp.StatusCode,
		"bytes":    len(data),
		"duration": time.Since(start).String(),
	}).Debug("inference request finished")

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference failed with status: %d: %s", resp.StatusCode, snippet(data))
	}
	return data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
