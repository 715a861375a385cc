package util

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
)

// Logger is the subset of a sugared logger resty reports through.
type Logger interface {
	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Debugf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Errorf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Debugf(string, ...any) {}

type RestyOptions struct {
	BaseURL string
	Retries int
	Timeout time.Duration
	Logger  Logger
}

// NewRestyClient returns a JSON client that retries GET requests with the
// retryablehttp policy and forwards the request id found on the request
// context.
func NewRestyClient(opts RestyOptions) *resty.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetLogger(opts.Logger).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryGet)
	c.JSONMarshal = json.Marshal
	c.JSONUnmarshal = json.Unmarshal
	c.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if id := RequestIDFromContext(req.Context()); id != "" {
			req.SetHeader(HeaderRequestID, id)
		}
		return nil
	})
	return c
}

func retryGet(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	retry, _ := retryablehttp.DefaultRetryPolicy(r.Request.Context(), r.RawResponse, err)
	return retry
}
