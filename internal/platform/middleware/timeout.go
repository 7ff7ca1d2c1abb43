package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestTimeout bounds each request with a context deadline. Repository
// calls observe the context, so a stuck query surfaces as a 504. Image
// uploads get twice the budget.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	onTimeout := func(err error, c echo.Context) error {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(c.Request().Context().Err(), context.DeadlineExceeded) {
			if !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out").SetInternal(err)
			}
		}
		return err
	}

	regular := echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Skipper:      isImageUpload,
		Timeout:      timeout,
		ErrorHandler: onTimeout,
	})
	upload := echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Skipper:      func(c echo.Context) bool { return !isImageUpload(c) },
		Timeout:      2 * timeout,
		ErrorHandler: onTimeout,
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return regular(upload(next))
	}
}
