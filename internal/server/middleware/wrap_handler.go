package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"github.com/labstack/echo/v4"
)

var (
	contextType = reflect.TypeFor[echo.Context]()
	errorType   = reflect.TypeFor[error]()
)

// WrapHandler adapts a controller method to echo. Accepted shapes:
//
//	func(echo.Context, Req) (Res, error)
//	func(echo.Context, Req) error
//
// Req must be a struct; it is bound and validated before the call. Res is
// written inside the Response envelope unless it already is a *Response.
// Error-only handlers answer 204 when they did not write anything.
// WrapHandler panics on any other shape, so misuse fails at route setup.
func WrapHandler(f any) echo.HandlerFunc {
	h, err := wrapHandler(f)
	if err != nil {
		panic(err)
	}
	return h
}

func wrapHandler(f any) (echo.HandlerFunc, error) {
	fn := reflect.ValueOf(f)
	if fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("wrap handler: %T is not a func", f)
	}
	typ := fn.Type()
	name := runtime.FuncForPC(fn.Pointer()).Name()
	if err := checkSignature(typ); err != nil {
		return nil, fmt.Errorf("wrap handler %s: %w", name, err)
	}

	reqType := typ.In(1)
	hasData := typ.NumOut() == 2

	return func(c echo.Context) error {
		req := reflect.New(reqType)
		if err := BindAndValidate(c, req.Interface()); err != nil {
			return err
		}

		out := fn.Call([]reflect.Value{reflect.ValueOf(c), req.Elem()})
		if err, _ := out[len(out)-1].Interface().(error); err != nil {
			return err
		}

		if !hasData {
			if res := c.Response(); !res.Committed {
				res.Header().Del(echo.HeaderContentType)
				return c.NoContent(http.StatusNoContent)
			}
			return nil
		}
		data := out[0].Interface()
		if r, ok := data.(*Response); ok {
			return c.JSON(r.Status, r)
		}
		return c.JSON(http.StatusOK, &Response{Status: http.StatusOK, Success: true, Data: data})
	}, nil
}

func checkSignature(typ reflect.Type) error {
	if typ.NumIn() != 2 {
		return fmt.Errorf("want 2 arguments, got %d", typ.NumIn())
	}
	if !typ.In(0).Implements(contextType) {
		return fmt.Errorf("first argument %s is not echo.Context", typ.In(0))
	}
	if typ.In(1).Kind() != reflect.Struct {
		return fmt.Errorf("second argument %s is not a struct", typ.In(1))
	}
	n := typ.NumOut()
	if n < 1 || n > 2 {
		return fmt.Errorf("want 1 or 2 results, got %d", n)
	}
	if last := typ.Out(n - 1); !last.Implements(errorType) {
		return fmt.Errorf("last result %s is not an error", last)
	}
	return nil
}
