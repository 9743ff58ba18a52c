package types

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures. Each kind maps to one stable
// user-facing message.
type Kind int

const (
	KindUnknown Kind = iota
	KindDecode
	KindInference
	KindInvalidMask
	KindEncoding
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "DecodeFailure"
	case KindInference:
		return "InferenceFailure"
	case KindInvalidMask:
		return "InvalidMask"
	case KindEncoding:
		return "EncodingFailure"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is checks. They match any *Error of the same kind.
var (
	ErrDecode      = &Error{Kind: KindDecode, Err: errors.New("image could not be decoded")}
	ErrInference   = &Error{Kind: KindInference, Err: errors.New("inference failed")}
	ErrInvalidMask = &Error{Kind: KindInvalidMask, Err: errors.New("invalid segmentation mask")}
	ErrEncoding    = &Error{Kind: KindEncoding, Err: errors.New("image encoding failed")}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		err = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage returns the notification text shown for a failure kind.
func UserMessage(kind Kind) string {
	switch kind {
	case KindDecode:
		return "The selected file is not a valid image."
	case KindInference:
		return "The detection service failed. Please try again."
	case KindInvalidMask:
		return "Background removal failed: the segmentation mask did not match the image."
	case KindEncoding:
		return "The image could not be exported."
	default:
		return "Something went wrong."
	}
}
