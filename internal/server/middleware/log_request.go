package middleware

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

const redacted = "[redacted]"

// LogRequestConfig configures LogRequest. Nil funcs fall back to: log every
// request with both JSON bodies and path params, without the query.
type LogRequestConfig struct {
	Logger       Logger
	Enabled      func(c echo.Context) bool
	RequestID    func(c echo.Context) string
	RequestBody  func(c echo.Context) bool
	ResponseBody func(c echo.Context) bool
	QueryParams  func(c echo.Context) bool
	ParamValues  func(c echo.Context) bool
	KeyAndValues func(c echo.Context) []any
	// Redact names top level JSON fields masked in logged bodies.
	Redact []string
}

type bodyDumpWriter struct {
	io.Writer
	http.ResponseWriter
}

// LogRequest logs one line per request: 5xx at error, 4xx at warn, the rest
// at info.
func LogRequest(config LogRequestConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		panic("Logger is required to use LogRequest")
	}
	always := func(echo.Context) bool { return true }
	never := func(echo.Context) bool { return false }
	if config.Enabled == nil {
		config.Enabled = always
	}
	if config.RequestBody == nil {
		config.RequestBody = always
	}
	if config.ResponseBody == nil {
		config.ResponseBody = always
	}
	if config.QueryParams == nil {
		config.QueryParams = never
	}
	if config.ParamValues == nil {
		config.ParamValues = always
	}
	if config.RequestID == nil {
		config.RequestID = GetRequestID
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !config.Enabled(c) {
				return next(c)
			}
			start := time.Now()
			req := c.Request()
			res := c.Response()

			logReqBody := config.RequestBody(c) && isJSON(req.Header)
			// upgraded connections stream frames, not a response body
			logResBody := config.ResponseBody(c) && !isUpgrade(req)

			var reqBody []byte
			if logReqBody {
				reqBody, _ = io.ReadAll(req.Body)
				req.Body = io.NopCloser(bytes.NewReader(reqBody))
			}
			var resBuf bytes.Buffer
			if logResBody {
				res.Writer = &bodyDumpWriter{
					Writer:         io.MultiWriter(res.Writer, &resBuf),
					ResponseWriter: res.Writer,
				}
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			args := make([]any, 0, 24)
			args = append(args,
				"status", res.Status,
				"method", req.Method,
				"uri", req.URL.Path,
				"latency_ms", time.Since(start).Milliseconds(),
				"real_ip", c.RealIP(),
				"request_id", config.RequestID(c),
			)
			if config.QueryParams(c) && len(c.QueryParams()) > 0 {
				args = append(args, "query", c.QueryParams())
			}
			if config.ParamValues(c) && len(c.ParamNames()) > 0 {
				params := make(map[string]string, len(c.ParamNames()))
				for _, name := range c.ParamNames() {
					params[name] = c.Param(name)
				}
				args = append(args, "params", params)
			}
			if config.KeyAndValues != nil {
				args = append(args, config.KeyAndValues(c)...)
			}
			if logReqBody && len(reqBody) > 0 {
				args = append(args, "request_body", json.RawMessage(redact(reqBody, config.Redact)))
			}
			if logResBody && resBuf.Len() > 0 && isJSON(res.Header()) {
				args = append(args, "response_body", json.RawMessage(redact(resBuf.Bytes(), config.Redact)))
			}

			switch {
			case res.Status >= http.StatusInternalServerError:
				if err != nil {
					args = append(args, "error", err.Error())
				}
				config.Logger.Errorw("request", args...)
			case res.Status >= http.StatusBadRequest:
				config.Logger.Warnw("request", args...)
			default:
				config.Logger.Infow("request", args...)
			}
			return err
		}
	}
}

// redact masks the named fields of a JSON object. Bodies that are not an
// object are returned unchanged.
func redact(body []byte, fields []string) []byte {
	if len(fields) == 0 {
		return body
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	masked := false
	for _, f := range fields {
		if _, ok := obj[f]; ok {
			obj[f] = json.RawMessage(`"` + redacted + `"`)
			masked = true
		}
	}
	if !masked {
		return body
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

func isJSON(h http.Header) bool {
	return strings.HasPrefix(h.Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
}

func isUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get(echo.HeaderUpgrade), "websocket")
}

func (w *bodyDumpWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyDumpWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *bodyDumpWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *bodyDumpWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}
