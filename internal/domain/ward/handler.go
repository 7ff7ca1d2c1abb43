package ward

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Manager
}

func NewHandler(svc *Manager) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts entity CRUD. Relationship changes, discharge and
// deletes go through the hospital facade so they emit events.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patients: staff read/write, doctors read their own.
	patients := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor), auth.RequireWrite())
	patients.GET("/patients", h.ListPatients)
	patients.POST("/patients", h.CreatePatient)
	patients.GET("/patients/:id", h.GetPatient)
	patients.PUT("/patients/:id", h.UpdatePatient)

	// Doctors: readable by staff and doctors, written by admins.
	doctorRead := api.Group("", auth.RequireRole(auth.RoleStaff, auth.RoleDoctor))
	doctorRead.GET("/doctors", h.ListDoctors)
	doctorRead.GET("/doctors/:id", h.GetDoctor)
	doctorRead.GET("/doctors/:id/patients", h.DoctorPatients)

	doctorWrite := api.Group("", auth.RequireRole(auth.RoleAdmin))
	doctorWrite.POST("/doctors", h.CreateDoctor)
	doctorWrite.PUT("/doctors/:id", h.UpdateDoctor)

	// Rooms and discharge history: staff.
	staff := api.Group("", auth.RequireRole(auth.RoleStaff))
	staff.GET("/rooms", h.ListRooms)
	staff.GET("/rooms/available", h.AvailableRooms)
	staff.GET("/rooms/:id", h.GetRoom)
	staff.POST("/rooms", h.CreateRoom)
	staff.PUT("/rooms/:id", h.UpdateRoom)
	staff.GET("/history", h.ListHistory)
}

func httpError(err error) error {
	switch {
	case IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}

// DoctorScope reports whether the caller only holds the DOCTOR role, and the
// doctor id their account is linked to.
func DoctorScope(ctx context.Context) (doctorOnly bool, linkedID string) {
	if auth.HasRole(ctx, auth.RoleStaff) || !auth.HasRole(ctx, auth.RoleDoctor) {
		return false, ""
	}
	return true, auth.LinkedIDFromContext(ctx)
}

// CanView reports whether the caller may see p. Doctors only see patients
// assigned to them.
func CanView(ctx context.Context, p *Patient) bool {
	doctorOnly, linked := DoctorScope(ctx)
	if !doctorOnly {
		return true
	}
	return linked != "" && p.DoctorID != nil && *p.DoctorID == linked
}

// -- Patients --

func (h *Handler) ListPatients(c echo.Context) error {
	ctx := c.Request().Context()
	p := pagination.FromContext(c)
	f := PatientFilter{
		Name:     c.QueryParam("name"),
		DoctorID: c.QueryParam("doctor_id"),
		RoomID:   c.QueryParam("room_id"),
	}
	doctorOnly, linked := DoctorScope(ctx)
	items, total, err := h.svc.PatientsForUser(ctx, doctorOnly, linked, f, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	ctx := c.Request().Context()
	p, err := h.svc.GetPatient(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	if !CanView(ctx, p) {
		return httpError(ErrPatientNotFound)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.PatientID = c.Param("id")
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Doctors --

func (h *Handler) ListDoctors(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	d, err := h.svc.GetDoctor(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateDoctor(c echo.Context) error {
	var d Doctor
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	d.DoctorID = c.Param("id")
	if err := h.svc.UpdateDoctor(c.Request().Context(), &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DoctorPatients(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if doctorOnly, linked := DoctorScope(ctx); doctorOnly && linked != id {
		return echo.NewHTTPError(http.StatusForbidden, "doctors may only list their own patients")
	}
	items, err := h.svc.DoctorPatients(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Rooms --

func (h *Handler) ListRooms(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListRooms(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}

func (h *Handler) AvailableRooms(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.AvailableRooms(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}

func (h *Handler) GetRoom(c echo.Context) error {
	r, err := h.svc.GetRoom(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CreateRoom(c echo.Context) error {
	var r Room
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateRoom(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) UpdateRoom(c echo.Context) error {
	var r Room
	if err := c.Bind(&r); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r.RoomID = c.Param("id")
	if err := h.svc.UpdateRoom(c.Request().Context(), &r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

// -- History --

func (h *Handler) ListHistory(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListHistory(c.Request().Context(), c.QueryParam("patient_id"), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).WithLinks(c))
}
