package hospital

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Facade
	now func() time.Time
}

func NewHandler(svc *Facade) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// RegisterRoutes mounts the workflow endpoints. intakeGuard wraps the public
// booking submission, typically with a rate limiter.
func (h *Handler) RegisterRoutes(api *echo.Group, intakeGuard ...echo.MiddlewareFunc) {
	api.POST("/bookings", h.SubmitBooking, intakeGuard...)

	patients := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor), auth.RequireWrite())
	patients.GET("/patients/:id/overview", h.PatientOverview)
	patients.GET("/patients/:id/invoice", h.Invoice)
	patients.PUT("/patients/:id/room", h.AssignRoom)
	patients.DELETE("/patients/:id/room", h.UnassignRoom)
	patients.PUT("/patients/:id/doctor", h.AssignDoctor)
	patients.DELETE("/patients/:id/doctor", h.UnassignDoctor)
	patients.POST("/patients/:id/discharge", h.Discharge)
	patients.PUT("/patients/:id/image", h.SetPatientImage)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.DELETE("/doctors/:id", h.DeleteDoctor)
	admin.PUT("/doctors/:id/image", h.SetDoctorImage)

	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.DELETE("/rooms/:id", h.DeleteRoom)
	staff.POST("/bookings/:id/approve", h.ApproveBooking)
	staff.POST("/bookings/:id/reject", h.RejectBooking)
	staff.GET("/dashboard", h.Dashboard)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, billing.ErrNoRoomAssigned):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, billing.ErrNegativeStay):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnsupportedImage), errors.Is(err, blobstore.ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	default:
		return intake.HTTPError(err)
	}
}

// dischargeDate reads an optional YYYY-MM-DD value, defaulting to now.
func (h *Handler) dischargeDate(value string) (time.Time, error) {
	if value == "" {
		return h.now(), nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "discharge date must be YYYY-MM-DD")
	}
	return t, nil
}

// visible hides patients a doctor is not responsible for.
func (h *Handler) visible(c echo.Context, patientID string) error {
	ctx := c.Request().Context()
	if doctorOnly, _ := ward.DoctorScope(ctx); !doctorOnly {
		return nil
	}
	d, err := h.svc.PatientOverview(ctx, patientID)
	if err != nil {
		return httpError(err)
	}
	if !ward.CanView(ctx, &d.Patient) {
		return httpError(ward.ErrPatientNotFound)
	}
	return nil
}

// -- Patients --

func (h *Handler) PatientOverview(c echo.Context) error {
	ctx := c.Request().Context()
	d, err := h.svc.PatientOverview(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !ward.CanView(ctx, &d.Patient) {
		return httpError(ward.ErrPatientNotFound)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Invoice(c echo.Context) error {
	id := c.Param("id")
	if err := h.visible(c, id); err != nil {
		return err
	}
	at, err := h.dischargeDate(c.QueryParam("discharge"))
	if err != nil {
		return err
	}
	inv, err := h.svc.Invoice(c.Request().Context(), id, at)
	if err != nil {
		return httpError(err)
	}
	if c.QueryParam("format") == "text" {
		return c.String(http.StatusOK, inv.Format())
	}
	return c.JSON(http.StatusOK, inv)
}

type assignRoomRequest struct {
	RoomID string `json:"room_id"`
}

type assignDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

func (h *Handler) AssignRoom(c echo.Context) error {
	var req assignRoomRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.RoomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room_id is required")
	}
	if err := h.svc.AssignRoom(c.Request().Context(), c.Param("id"), req.RoomID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UnassignRoom(c echo.Context) error {
	if err := h.svc.UnassignRoom(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	var req assignDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DoctorID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	if err := h.svc.AssignDoctor(c.Request().Context(), c.Param("id"), req.DoctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) UnassignDoctor(c echo.Context) error {
	if err := h.svc.UnassignDoctor(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type dischargeRequest struct {
	DischargeDate string `json:"discharge_date"`
}

func (h *Handler) Discharge(c echo.Context) error {
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	at, err := h.dischargeDate(req.DischargeDate)
	if err != nil {
		return err
	}
	out, err := h.svc.Discharge(c.Request().Context(), c.Param("id"), at)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

type imageResponse struct {
	Key string `json:"key"`
}

func (h *Handler) SetPatientImage(c echo.Context) error {
	req := c.Request()
	key, err := h.svc.SetPatientImage(req.Context(), c.Param("id"), req.Header.Get(echo.HeaderContentType), req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, imageResponse{Key: key})
}

// -- Doctors and rooms --

type deleteResponse struct {
	Released int64 `json:"released_patients"`
}

func (h *Handler) DeleteDoctor(c echo.Context) error {
	n, err := h.svc.DeleteDoctor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, deleteResponse{Released: n})
}

func (h *Handler) SetDoctorImage(c echo.Context) error {
	req := c.Request()
	key, err := h.svc.SetDoctorImage(req.Context(), c.Param("id"), req.Header.Get(echo.HeaderContentType), req.Body)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, imageResponse{Key: key})
}

func (h *Handler) DeleteRoom(c echo.Context) error {
	n, err := h.svc.DeleteRoom(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, deleteResponse{Released: n})
}

// -- Bookings --

func (h *Handler) SubmitBooking(c echo.Context) error {
	var b intake.Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SubmitBooking(c.Request().Context(), &b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ApproveBooking(c echo.Context) error {
	id, err := intake.BookingID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.ApproveBooking(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RejectBooking(c echo.Context) error {
	id, err := intake.BookingID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.RejectBooking(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// -- Dashboard --

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}
