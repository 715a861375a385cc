package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

type Skipper func(c echo.Context) bool

// DefaultSkipper runs the middleware on every request.
func DefaultSkipper(echo.Context) bool {
	return false
}

// Logger is the part of *zap.SugaredLogger the middleware writes to.
type Logger interface {
	Debugw(msg string, keysAndValues ...any)
	Infow(msg string, keysAndValues ...any)
	Warnw(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// Response is the envelope of every JSON answer of the gateway.
type Response struct {
	Status       int    `json:"-"`
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorData    any    `json:"error_data,omitempty"`
}

// ResponseError lets a handler pick the status, code and details of a
// failed answer.
type ResponseError struct {
	Status       int    `json:"-"`
	Err          error  `json:"-"`
	Success      bool   `json:"success"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorData    any    `json:"error_data,omitempty"`
}

func NewResponseError(status int, code, message string) *ResponseError {
	return &ResponseError{
		Status:       status,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.ErrorCode, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.ErrorCode, e.ErrorMessage)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
