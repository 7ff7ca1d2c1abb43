package blobstore

import (
	"context"
	"errors"
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
)

// Guard reports whether the caller on ctx may read key. Denied keys are
// answered as not found so their existence is not revealed.
type Guard func(ctx context.Context, key string) (bool, error)

// Handler serves stored blobs for download.
type Handler struct {
	store Store
	guard Guard
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithGuard checks every download against g before touching the store.
func (h *Handler) WithGuard(g Guard) *Handler {
	h.guard = g
	return h
}

// RegisterRoutes mounts GET /files/* on g. The wildcard is the blob key.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/files/*", h.Download)
}

func (h *Handler) Download(c echo.Context) error {
	key := c.Param("*")
	if err := ValidateKey(key); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.guard != nil {
		ok, err := h.guard(c.Request().Context(), key)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
	}

	rc, meta, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = echo.MIMEOctetStream
	}
	c.Response().Header().Set("Content-Disposition", `inline; filename="`+path.Base(key)+`"`)
	return c.Stream(http.StatusOK, contentType, rc)
}
