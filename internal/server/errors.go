package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/internal/utils"
	"github.com/menta2k/image-detector/pkg/types"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Details string `json:"details,omitempty"`
	TraceID string `json:"trace_id"`
}

// StatusForKind maps a failure kind to its HTTP status
func StatusForKind(kind types.Kind) int {
	switch kind {
	case types.KindDecode:
		return fiber.StatusBadRequest
	case types.KindInvalidMask:
		return fiber.StatusUnprocessableEntity
	case types.KindInference:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error, operation string) error {
	requestID := getRequestID(c)
	fields := logging.Fields{
		logging.RequestIDKey: requestID,
		"path":               c.Path(),
		"operation":          operation,
		"error":              err.Error(),
	}

	if isUploadError(err) {
		s.log.WithFields(fields).Warn("Rejected upload")
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   err.Error(),
			Kind:    types.KindDecode.String(),
			TraceID: requestID,
		})
	}

	kind := types.KindOf(err)
	status := StatusForKind(kind)
	fields["kind"] = kind.String()

	traceID := requestID
	if status >= fiber.StatusInternalServerError {
		traceID = logging.ErrorWithTraceID(s.log, fields, "Operation failed")
	} else {
		s.log.WithFields(fields).Warn("Operation failed")
	}

	return c.Status(status).JSON(ErrorResponse{
		Error:   types.UserMessage(kind),
		Kind:    kind.String(),
		Details: err.Error(),
		TraceID: traceID,
	})
}

func isUploadError(err error) bool {
	return errors.Is(err, utils.ErrNoFile) ||
		errors.Is(err, utils.ErrFileTooLarge) ||
		errors.Is(err, utils.ErrNotAnImage)
}

func (s *Server) badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error:   msg,
		TraceID: getRequestID(c),
	})
}
