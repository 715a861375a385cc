package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error {
		assert.Equal(t, GetRequestID(c), util.RequestIDFromContext(c.Request().Context()))
		return c.String(http.StatusOK, GetRequestID(c))
	})

	serve := func(header http.Header) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range header {
			req.Header[k] = v
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec
	}

	tests := []struct {
		name   string
		header http.Header
		want   string
	}{
		{"request id", http.Header{"X-Request-Id": {"req-1"}}, "req-1"},
		{"correlation id", http.Header{"X-Correlation-Id": {"corr-1"}}, "corr-1"},
		{"request id wins", http.Header{"X-Request-Id": {"req-1"}, "X-Correlation-Id": {"corr-1"}}, "req-1"},
		{"trimmed", http.Header{"X-Request-Id": {"  req-2 "}}, "req-2"},
		{"capped", http.Header{"X-Request-Id": {strings.Repeat("a", 300)}}, strings.Repeat("a", maxRequestIDLen)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(tt.header)
			assert.Equal(t, tt.want, rec.Body.String())
			assert.Equal(t, tt.want, rec.Header().Get(util.HeaderRequestID))
		})
	}

	t.Run("generated", func(t *testing.T) {
		rec := serve(http.Header{"X-Request-Id": {"   "}})
		id := rec.Header().Get(util.HeaderRequestID)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, rec.Body.String())
	})
}

func TestGetRequestIDWithoutMiddleware(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Empty(t, GetRequestID(c))
}
