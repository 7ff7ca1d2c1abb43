package auth

import (
	"github.com/labstack/echo/v4"
)

// anyMethod marks a route that is public for every method.
const anyMethod = "*"

// publicRoutes maps a route path to the method that may reach it without a
// token. Anyone may submit a booking; only staff may list them.
var publicRoutes = map[string]string{
	"/health":            anyMethod,
	"/health/db":         anyMethod,
	"/metrics":           anyMethod,
	"/api/v1/auth/login": anyMethod,
	"/api/v1/bookings":   "POST",
}

// IsPublic reports whether method on the route path needs no token.
func IsPublic(method, path string) bool {
	m, ok := publicRoutes[path]
	return ok && (m == anyMethod || m == method)
}

// AuthSkipper is the JWTConfig.Skipper for the API. It matches the route
// pattern, so it must run after routing.
func AuthSkipper(c echo.Context) bool {
	return IsPublic(c.Request().Method, c.Path())
}
