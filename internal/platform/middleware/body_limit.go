package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies with echo's limiter. uploadLimit applies to
// image uploads (PUT .../image), defaultLimit to everything else. Limits use
// echo's size syntax ("512K", "1M", "10MB" or a byte count); an invalid one
// panics, so config validation rejects them first.
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	regular := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   defaultLimit,
		Skipper: isImageUpload,
	})
	upload := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   uploadLimit,
		Skipper: func(c echo.Context) bool { return !isImageUpload(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return regular(upload(next))
	}
}

func isImageUpload(c echo.Context) bool {
	req := c.Request()
	return req.Method == http.MethodPut && strings.HasSuffix(req.URL.Path, "/image")
}
