package middleware

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	requestIDKey        = "request_id"
	maxRequestIDLen     = 128
)

type RequestIDConfig struct {
	Skipper  Skipper
	Generate func() string
}

// RequestID reuses the caller's X-Request-Id (or X-Correlation-Id) and
// generates a uuid otherwise. The id is echoed in the response header and
// carried on the request context for outgoing backend calls.
func RequestID() echo.MiddlewareFunc {
	return RequestIDWithConfig(RequestIDConfig{})
}

func RequestIDWithConfig(config RequestIDConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	if config.Generate == nil {
		config.Generate = uuid.NewString
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}
			req := c.Request()
			id := incomingRequestID(req.Header.Get(util.HeaderRequestID), req.Header.Get(headerCorrelationID))
			if id == "" {
				id = config.Generate()
			}
			c.Set(requestIDKey, id)
			c.SetRequest(req.WithContext(util.WithRequestID(req.Context(), id)))
			c.Response().Header().Set(util.HeaderRequestID, id)
			return next(c)
		}
	}
}

// GetRequestID returns the id assigned by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(requestIDKey).(string); ok {
		return id
	}
	return util.RequestIDFromContext(c.Request().Context())
}

func incomingRequestID(candidates ...string) string {
	for _, id := range candidates {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if len(id) > maxRequestIDLen {
			id = id[:maxRequestIDLen]
		}
		return id
	}
	return ""
}
