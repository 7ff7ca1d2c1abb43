package intake

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Workflow
}

func NewHandler(svc *Workflow) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the booking queue reads. Submission and decisions
// are served by the hospital facade.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/bookings", h.ListBookings)
	staff.GET("/bookings/:id", h.GetBooking)
}

// HTTPError maps booking errors, including ward errors raised during
// approval, to HTTP status codes.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrBookingNotFound), ward.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrBookingFinalized), ward.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid), errors.Is(err, ward.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// BookingID parses the :id path parameter.
func BookingID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid booking id")
	}
	return id, nil
}

func (h *Handler) ListBookings(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListBookings(c.Request().Context(), c.QueryParam("status"), p.Limit, p.Offset)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := BookingID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBooking(c.Request().Context(), id)
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}
