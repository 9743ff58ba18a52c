package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Upload validation errors
var (
	ErrNoFile       = errors.New("no file uploaded")
	ErrFileTooLarge = errors.New("file size exceeds limit")
	ErrNotAnImage   = errors.New("uploaded file is not an image")
)

// NewULIDFromTimestamp returns a sortable unique id for t
func NewULIDFromTimestamp(t time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(t), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidateImageFile checks an uploaded file's size and declared type. An
// empty content type is accepted when the extension looks like an image.
func ValidateImageFile(file *multipart.FileHeader, maxSize int64) error {
	if file == nil {
		return ErrNoFile
	}
	if file.Size == 0 {
		return ErrNoFile
	}
	if maxSize > 0 && file.Size > maxSize {
		return fmt.Errorf("%w: %s > %s", ErrFileTooLarge, FormatFileSize(file.Size), FormatFileSize(maxSize))
	}

	contentType := file.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "image/"):
	case (contentType == "" || contentType == "application/octet-stream") && IsImageFile(file.Filename):
	default:
		return ErrNotAnImage
	}
	return nil
}

// ReadUpload reads the whole uploaded file
func ReadUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	return data, nil
}
