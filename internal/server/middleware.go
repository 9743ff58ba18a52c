package server

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/menta2k/image-detector/internal/logging"
	"github.com/menta2k/image-detector/internal/utils"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID, _ = utils.NewULIDFromTimestamp(time.Now())
		}

		c.Locals(logging.RequestIDKey, requestID)
		c.Set(RequestIDHeader, requestID)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), requestID))

		return c.Next()
	}
}

func getRequestID(c *fiber.Ctx) string {
	requestID, ok := c.Locals(logging.RequestIDKey).(string)
	if !ok || requestID == "" {
		return "unknown"
	}
	return requestID
}

func loggingMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := logging.Fields{
			logging.RequestIDKey: getRequestID(c),
			"method":             c.Method(),
			"path":               c.Path(),
			"status":             status,
			"latency_ms":         time.Since(start).Milliseconds(),
			"ip":                 c.IP(),
			"response_size":      len(c.Response().Body()),
		}

		entry := logger.WithFields(fields)
		switch {
		case status >= 500:
			entry.Error("Server error")
		case status >= 400:
			entry.Warn("Client error")
		default:
			entry.Info("Success")
		}
		return err
	}
}

type rateLimiter struct {
	bucket    map[string]*rate.Limiter
	rate      rate.Limit
	burstSize int
	mutex     sync.Mutex
}

func newRateLimiter(reqRate float64, burstSize int) *rateLimiter {
	if burstSize < 1 {
		burstSize = 1
	}
	return &rateLimiter{
		bucket:    make(map[string]*rate.Limiter),
		rate:      rate.Limit(reqRate),
		burstSize: burstSize,
	}
}

func (r *rateLimiter) limiterFor(ip string) *rate.Limiter {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exist := r.bucket[ip]; !exist {
		r.bucket[ip] = rate.NewLimiter(r.rate, r.burstSize)
	}
	return r.bucket[ip]
}

func (r *rateLimiter) middleware(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientIP := c.IP()
		if !r.limiterFor(clientIP).Allow() {
			logger.Warnf("too many requests for IP %s", clientIP)
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error:   "Too many requests",
				TraceID: getRequestID(c),
			})
		}
		return c.Next()
	}
}
