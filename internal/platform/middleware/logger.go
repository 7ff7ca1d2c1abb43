package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
)

// Logger writes one access log line per request. Server errors log at error
// level with the internal cause handlers attach to generic 500s; client
// errors log at warn.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			cause := err
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
				if he.Internal != nil {
					cause = he.Internal
				}
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(cause)
			case status >= 400:
				evt = logger.Warn()
			default:
				evt = logger.Info()
			}

			if user := auth.UserIDFromContext(req.Context()); user != "" {
				evt = evt.Str("user", user)
			}
			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
