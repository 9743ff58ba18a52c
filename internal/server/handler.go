package server

import (
	"image"
	"strconv"

	"github.com/gofiber/fiber/v2"

	imagedetector "github.com/menta2k/image-detector"
	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/internal/utils"
	"github.com/menta2k/image-detector/pkg/export"
)

const (
	// UploadField is the multipart field carrying the image
	UploadField = "image"

	// ObjectCountHeader reports the number of objects drawn by /detect/render
	ObjectCountHeader = "X-Objects-Detected"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	resp := HealthResponse{Status: "ok", Version: imagedetector.Version}
	if s.health != nil {
		if err := s.health.CheckHealth(c.UserContext()); err != nil {
			resp.Status = "degraded"
			resp.Backend = err.Error()
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
		resp.Backend = "ok"
	}
	return c.JSON(resp)
}

// readImage validates and decodes the uploaded image
func (s *Server) readImage(c *fiber.Ctx) (string, *image.NRGBA, error) {
	file, err := c.FormFile(UploadField)
	if err != nil {
		return "", nil, utils.ErrNoFile
	}
	if err := utils.ValidateImageFile(file, s.maxUpload); err != nil {
		return "", nil, err
	}

	s.log.WithFields(logging.Fields{
		logging.RequestIDKey: getRequestID(c),
		"file_name":          file.Filename,
		"file_size":          file.Size,
	}).Debug("Processing file upload")

	data, err := utils.ReadUpload(file)
	if err != nil {
		return "", nil, err
	}
	img, err := s.pipeline.Decode(data)
	if err != nil {
		return "", nil, err
	}
	return file.Filename, img, nil
}

func (s *Server) handleDetect(c *fiber.Ctx) error {
	_, img, err := s.readImage(c)
	if err != nil {
		return s.handleError(c, err, "read_image")
	}

	result, err := s.pipeline.Detect(c.UserContext(), img)
	if err != nil {
		return s.handleError(c, err, "detect")
	}

	return c.JSON(newDetectResponse(getRequestID(c), result))
}

func (s *Server) handleRender(c *fiber.Ctx) error {
	var query RenderQuery
	if err := c.QueryParser(&query); err != nil {
		return s.badRequest(c, "invalid query")
	}
	if err := s.validator.Struct(query); err != nil {
		return s.badRequest(c, "overlay must be a boolean")
	}

	name, img, err := s.readImage(c)
	if err != nil {
		return s.handleError(c, err, "read_image")
	}

	result, err := s.pipeline.Detect(c.UserContext(), img)
	if err != nil {
		return s.handleError(c, err, "detect")
	}

	rendered, err := s.pipeline.Render(result.Canvas, result.Objects, query.Visible())
	if err != nil {
		return s.handleError(c, err, "render")
	}
	data, err := export.Encode(rendered, export.PNG())
	if err != nil {
		return s.handleError(c, err, "encode")
	}

	c.Set(ObjectCountHeader, strconv.Itoa(len(result.Objects)))
	c.Attachment(export.DetectedFilename(name))
	c.Type("png")
	return c.Send(data)
}

func (s *Server) handleBackground(c *fiber.Ctx) error {
	var query BackgroundQuery
	if err := c.QueryParser(&query); err != nil {
		return s.badRequest(c, "invalid query")
	}
	if err := s.validator.Struct(query); err != nil {
		return s.badRequest(c, "format must be png or webp")
	}
	format := export.ParseFormat(query.Format)
	if format == "" {
		format = export.FormatPNG
	}

	name, img, err := s.readImage(c)
	if err != nil {
		return s.handleError(c, err, "read_image")
	}

	cutout, err := s.pipeline.RemoveBackground(c.UserContext(), img)
	if err != nil {
		return s.handleError(c, err, "remove_background")
	}

	data, err := export.EncodeAlpha(cutout, export.Options{Format: format})
	if err != nil {
		return s.handleError(c, err, "encode")
	}

	c.Attachment(export.WithPrefix(name, "no_bg_", export.Extension(format)))
	c.Type(export.Extension(format))
	return c.Send(data)
}
