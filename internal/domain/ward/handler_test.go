package ward_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/testutil"
)

func newTestHandler(t *testing.T) (*ward.Handler, *ward.Manager, *testutil.Store, *echo.Echo) {
	t.Helper()
	s := testutil.NewStore()
	m := testutil.NewManager(s)
	return ward.NewHandler(m), m, s, echo.New()
}

func asUser(req *http.Request, user, role, linked string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), user, []string{role}, linked))
}

func assertHTTPCode(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError with %d, got %T (%v)", code, err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, httpErr.Code, httpErr.Message)
	}
}

func TestHandler_CreatePatient(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	body := `{"patient_id":"P-1","name":"Ada","age":36,"room_id":"R-9"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var p ward.Patient
	json.Unmarshal(rec.Body.Bytes(), &p)
	if p.PatientID != "P-1" || p.AdmissionDate == nil {
		t.Errorf("unexpected patient %+v", p)
	}
	if p.RoomID != nil {
		t.Error("room must not be assignable through create")
	}
}

func TestHandler_CreatePatient_Invalid(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"name":"","age":30}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	assertHTTPCode(t, h.CreatePatient(c), http.StatusBadRequest)
}

func TestHandler_CreatePatient_Duplicate(t *testing.T) {
	h, _, s, e := newTestHandler(t)
	testutil.SeedPatient(t, s, "P-1", "Ada", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients", strings.NewReader(`{"patient_id":"P-1","name":"Bob","age":30}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	assertHTTPCode(t, h.CreatePatient(c), http.StatusConflict)
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("P-404")

	assertHTTPCode(t, h.GetPatient(c), http.StatusNotFound)
}

func TestHandler_StoreFailureHidesCause(t *testing.T) {
	h, _, s, e := newTestHandler(t)
	cause := errors.New("FATAL: terminating connection due to administrator command (SQLSTATE 57P01)")
	s.FailOn("patients.GetByID", cause)

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("P-1")

	err := h.GetPatient(c)
	assertHTTPCode(t, err, http.StatusInternalServerError)
	httpErr := err.(*echo.HTTPError)
	if msg, _ := httpErr.Message.(string); strings.Contains(msg, "SQLSTATE") {
		t.Errorf("driver error leaked to the client: %q", msg)
	}
	if !errors.Is(httpErr.Internal, cause) {
		t.Errorf("expected the cause kept as internal error, got %v", httpErr.Internal)
	}
}

func TestHandler_DoctorSeesOnlyOwnPatients(t *testing.T) {
	h, m, s, e := newTestHandler(t)
	ctx := context.Background()
	testutil.SeedDoctor(t, s, "D-1", "House")
	testutil.SeedDoctor(t, s, "D-2", "Wilson")
	testutil.SeedPatient(t, s, "P-1", "Ada", nil)
	testutil.SeedPatient(t, s, "P-2", "Bob", nil)
	testutil.SeedPatient(t, s, "P-3", "Cy", nil)
	if err := m.AssignPatientToDoctor(ctx, "P-1", "D-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.AssignPatientToDoctor(ctx, "P-2", "D-2"); err != nil {
		t.Fatal(err)
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), "house", auth.RoleDoctor, "D-1")
	rec := httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []ward.Patient `json:"data"`
		Total int            `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 || page.Data[0].PatientID != "P-1" {
		t.Errorf("expected only P-1, got %+v", page)
	}

	// Someone else's patient looks absent.
	req = asUser(httptest.NewRequest(http.MethodGet, "/", nil), "house", auth.RoleDoctor, "D-1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("P-2")
	assertHTTPCode(t, h.GetPatient(c), http.StatusNotFound)

	// Staff see everyone.
	req = asUser(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), "nurse", auth.RoleStaff, "")
	rec = httptest.NewRecorder()
	if err := h.ListPatients(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 3 {
		t.Errorf("expected staff to see 3 patients, got %d", page.Total)
	}
}

func TestHandler_DoctorPatients_OtherDoctorForbidden(t *testing.T) {
	h, _, s, e := newTestHandler(t)
	testutil.SeedDoctor(t, s, "D-1", "House")

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), "wilson", auth.RoleDoctor, "D-2")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("D-1")

	assertHTTPCode(t, h.DoctorPatients(c), http.StatusForbidden)
}

func TestHandler_DoctorPatients_Empty(t *testing.T) {
	h, _, s, e := newTestHandler(t)
	testutil.SeedDoctor(t, s, "D-1", "House")

	req := asUser(httptest.NewRequest(http.MethodGet, "/", nil), "admin", auth.RoleAdmin, "")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("D-1")

	if err := h.DoctorPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", rec.Body.String())
	}
}

func TestHandler_UpdatePatient_KeepsAssignments(t *testing.T) {
	h, m, s, e := newTestHandler(t)
	ctx := context.Background()
	testutil.SeedRoom(t, s, "R-1", ward.RoomICU)
	testutil.SeedPatient(t, s, "P-1", "Ada", nil)
	if err := m.AssignPatientToRoom(ctx, "P-1", "R-1"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"name":"Ada L.","age":37,"room_id":null}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("P-1")

	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.GetPatient(ctx, "P-1")
	if got.Name != "Ada L." || got.RoomID == nil || *got.RoomID != "R-1" {
		t.Errorf("expected name change with room kept, got %+v", got)
	}
}

func TestHandler_CreateRoom_InvalidType(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms", strings.NewReader(`{"room_id":"R-1","room_type":"Suite"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	assertHTTPCode(t, h.CreateRoom(c), http.StatusBadRequest)
}

func TestHandler_AvailableRooms(t *testing.T) {
	h, m, s, e := newTestHandler(t)
	testutil.SeedRoom(t, s, "R-1", ward.RoomGeneral)
	testutil.SeedRoom(t, s, "R-2", ward.RoomPrivate)
	testutil.SeedPatient(t, s, "P-1", "Ada", nil)
	if err := m.AssignPatientToRoom(context.Background(), "P-1", "R-1"); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	if err := h.AvailableRooms(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/rooms/available", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data []ward.Room `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Data) != 1 || page.Data[0].RoomID != "R-2" {
		t.Errorf("expected only R-2 available, got %+v", page.Data)
	}
}

func TestCanView(t *testing.T) {
	d1 := "D-1"
	p := &ward.Patient{PatientID: "P-1", DoctorID: &d1}
	ctx := context.Background()

	tests := []struct {
		name   string
		roles  []string
		linked string
		want   bool
	}{
		{"staff", []string{auth.RoleStaff}, "", true},
		{"admin", []string{auth.RoleAdmin}, "", true},
		{"own doctor", []string{auth.RoleDoctor}, "D-1", true},
		{"other doctor", []string{auth.RoleDoctor}, "D-2", false},
		{"unlinked doctor", []string{auth.RoleDoctor}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ward.CanView(auth.WithIdentity(ctx, "u", tt.roles, tt.linked), p); got != tt.want {
				t.Errorf("CanView = %v, want %v", got, tt.want)
			}
		})
	}
}
