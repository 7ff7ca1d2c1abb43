package hospital_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/hospital"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/testutil"
)

func newTestHandler(t *testing.T) (*hospital.Handler, *fixture, *echo.Echo) {
	t.Helper()
	fx := newFixture(t)
	return hospital.NewHandler(fx.facade), fx, echo.New()
}

func jsonRequest(method, body string) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func withID(c echo.Context, id string) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func expectCode(t *testing.T, err error, code int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTP %d, got %T (%v)", code, err, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestHandler_Discharge(t *testing.T) {
	h, fx, e := newTestHandler(t)
	fx.admit(t, "P-1", "R-1", ward.RoomICU, testutil.Date(2024, time.January, 1))

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"discharge_date":"2024-01-02"}`), rec), "P-1")
	if err := h.Discharge(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out hospital.Discharge
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Invoice == nil || out.Invoice.Total != 200 {
		t.Errorf("expected ICU 1 day = 200, got %+v", out.Invoice)
	}
	if out.History == nil || out.History.PatientID != "P-1" {
		t.Errorf("expected history snapshot, got %+v", out.History)
	}
}

func TestHandler_Discharge_BadDate(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedPatient(t, fx.store, "P-1", "Ada", nil)

	c := withID(e.NewContext(jsonRequest(http.MethodPost, `{"discharge_date":"02/01/2024"}`), httptest.NewRecorder()), "P-1")
	expectCode(t, h.Discharge(c), http.StatusBadRequest)
}

func TestHandler_Invoice(t *testing.T) {
	h, fx, e := newTestHandler(t)
	fx.admit(t, "P-1", "R-1", ward.RoomPrivate, testutil.Date(2024, time.January, 1))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/?discharge=2024-01-04&format=text", nil)
	if err := h.Invoice(withID(e.NewContext(req, rec), "P-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "HOSPITAL INVOICE") || !strings.Contains(body, "300.00") {
		t.Errorf("unexpected invoice text:\n%s", body)
	}
}

func TestHandler_Invoice_NoRoom(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedPatient(t, fx.store, "P-1", "Ada", nil)

	c := withID(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder()), "P-1")
	expectCode(t, h.Invoice(c), http.StatusConflict)
}

func TestHandler_AssignRoom(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedRoom(t, fx.store, "R-1", ward.RoomGeneral)
	testutil.SeedPatient(t, fx.store, "P-1", "Ada", nil)
	testutil.SeedPatient(t, fx.store, "P-2", "Bob", nil)

	rec := httptest.NewRecorder()
	if err := h.AssignRoom(withID(e.NewContext(jsonRequest(http.MethodPut, `{"room_id":"R-1"}`), rec), "P-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c := withID(e.NewContext(jsonRequest(http.MethodPut, `{"room_id":"R-1"}`), httptest.NewRecorder()), "P-2")
	expectCode(t, h.AssignRoom(c), http.StatusConflict)

	c = withID(e.NewContext(jsonRequest(http.MethodPut, `{"room_id":"R-404"}`), httptest.NewRecorder()), "P-2")
	expectCode(t, h.AssignRoom(c), http.StatusNotFound)

	c = withID(e.NewContext(jsonRequest(http.MethodPut, `{}`), httptest.NewRecorder()), "P-2")
	expectCode(t, h.AssignRoom(c), http.StatusBadRequest)
}

func TestHandler_PatientOverview_DoctorScope(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedDoctor(t, fx.store, "D-1", "House")
	testutil.SeedPatient(t, fx.store, "P-1", "Ada", nil)
	if err := fx.facade.AssignDoctor(context.Background(), "P-1", "D-1"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "house", []string{auth.RoleDoctor}, "D-1"))
	rec := httptest.NewRecorder()
	if err := h.PatientOverview(withID(e.NewContext(req, rec), "P-1")); err != nil {
		t.Fatalf("own patient: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "wilson", []string{auth.RoleDoctor}, "D-2"))
	expectCode(t, h.PatientOverview(withID(e.NewContext(req, httptest.NewRecorder()), "P-1")), http.StatusNotFound)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "wilson", []string{auth.RoleDoctor}, "D-2"))
	expectCode(t, h.Invoice(withID(e.NewContext(req, httptest.NewRecorder()), "P-1")), http.StatusNotFound)
}

func TestHandler_SubmitAndApproveBooking(t *testing.T) {
	h, _, e := newTestHandler(t)

	body := `{"patient_name":"Ada","age":30,"gender":"Female","contact_number":"555","symptoms":"cough","requested_room_id":""}`
	rec := httptest.NewRecorder()
	if err := h.SubmitBooking(e.NewContext(jsonRequest(http.MethodPost, body), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := h.ApproveBooking(withID(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec), "1")); err != nil {
		t.Fatalf("approve: %v", err)
	}
	var a struct {
		Patient ward.Patient `json:"patient"`
	}
	json.Unmarshal(rec.Body.Bytes(), &a)
	if !strings.HasPrefix(a.Patient.PatientID, "P-") {
		t.Errorf("expected synthesized patient id, got %q", a.Patient.PatientID)
	}

	c := withID(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder()), "1")
	expectCode(t, h.ApproveBooking(c), http.StatusConflict)

	c = withID(e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder()), "x")
	expectCode(t, h.RejectBooking(c), http.StatusBadRequest)
}

func TestHandler_SubmitBooking_Invalid(t *testing.T) {
	h, _, e := newTestHandler(t)

	c := e.NewContext(jsonRequest(http.MethodPost, `{"patient_name":"Ada","gender":"Unknown"}`), httptest.NewRecorder())
	expectCode(t, h.SubmitBooking(c), http.StatusBadRequest)
}

func TestHandler_SetPatientImage(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedPatient(t, fx.store, "P-1", "Ada", nil)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("GIF89a"))
	req.Header.Set(echo.HeaderContentType, "image/gif")
	rec := httptest.NewRecorder()
	if err := h.SetPatientImage(withID(e.NewContext(req, rec), "P-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "images/patients/P-1.gif") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPut, "/", strings.NewReader("hello"))
	req.Header.Set(echo.HeaderContentType, "text/plain")
	expectCode(t, h.SetPatientImage(withID(e.NewContext(req, httptest.NewRecorder()), "P-1")), http.StatusUnsupportedMediaType)
}

func TestHandler_DeleteRoom(t *testing.T) {
	h, fx, e := newTestHandler(t)
	fx.admit(t, "P-1", "R-1", ward.RoomGeneral, time.Now())

	rec := httptest.NewRecorder()
	if err := h.DeleteRoom(withID(e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec), "R-1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"released_patients":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	expectCode(t, h.DeleteDoctor(withID(e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), httptest.NewRecorder()), "D-404")), http.StatusNotFound)
}

func TestHandler_Dashboard(t *testing.T) {
	h, fx, e := newTestHandler(t)
	fx.admit(t, "P-1", "R-1", ward.RoomGeneral, time.Now())

	rec := httptest.NewRecorder()
	if err := h.Dashboard(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var d hospital.Dashboard
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.Patients != 1 || d.OccupiedRooms != 1 {
		t.Errorf("unexpected dashboard %+v", d)
	}
}

func TestRoutes_RoleGates(t *testing.T) {
	h, fx, e := newTestHandler(t)
	testutil.SeedRoom(t, fx.store, "R-1", ward.RoomGeneral)
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	// Identity is injected ahead of routing, as the JWT middleware does.
	withRole := func(role string) *http.Request {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/rooms/R-1", nil)
		return req.WithContext(auth.WithIdentity(req.Context(), "u", []string{role}, "D-1"))
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, withRole(auth.RoleDoctor))
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor deleting a room: expected 403, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, withRole(auth.RoleStaff))
	if rec.Code != http.StatusOK {
		t.Errorf("staff deleting a room: expected 200, got %d", rec.Code)
	}

	// Public intake needs no identity.
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings",
		strings.NewReader(`{"patient_name":"Ada","age":30,"gender":"Female","contact_number":"555","symptoms":"cough"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("public booking: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	// Doctors cannot discharge.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/patients/P-1/discharge", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "house", []string{auth.RoleDoctor}, "D-1"))
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("doctor discharge: expected 403, got %d", rec.Code)
	}
}

func TestFileDownload_DoctorScope(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	admitted := testutil.Date(2024, time.January, 1)
	discharged := testutil.Date(2024, time.January, 4)

	testutil.SeedDoctor(t, fx.store, "D-MINE", "House")
	testutil.SeedDoctor(t, fx.store, "D-OTHER", "Wilson")
	for _, p := range []struct{ patient, room, doctor string }{
		{"P-MINE", "R-1", "D-MINE"},
		{"P-OTHER", "R-2", "D-OTHER"},
	} {
		fx.admit(t, p.patient, p.room, ward.RoomGeneral, admitted)
		if err := fx.facade.AssignDoctor(ctx, p.patient, p.doctor); err != nil {
			t.Fatal(err)
		}
		if _, err := fx.facade.Discharge(ctx, p.patient, discharged); err != nil {
			t.Fatalf("discharge %s: %v", p.patient, err)
		}
	}
	testutil.SeedPatient(t, fx.store, "P-LIVE", "Cy", &admitted)
	if err := fx.facade.AssignDoctor(ctx, "P-LIVE", "D-MINE"); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"images/patients/P-LIVE.png", "images/doctors/D-OTHER.png"} {
		if _, err := fx.files.Put(ctx, key, "image/png", strings.NewReader("png")); err != nil {
			t.Fatal(err)
		}
	}

	h := blobstore.NewHandler(fx.files).WithGuard(fx.facade.CanReadFile)
	download := func(role, linked, key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), "u", []string{role}, linked))
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)
		c.SetParamNames("*")
		c.SetParamValues(key)
		if err := h.Download(c); err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				return he.Code
			}
			t.Fatalf("%s: unexpected error %v", key, err)
		}
		return rec.Code
	}

	tests := []struct {
		role, linked, key string
		code              int
	}{
		{auth.RoleDoctor, "D-MINE", "invoices/P-MINE/2024-01-04.txt", http.StatusOK},
		{auth.RoleDoctor, "D-MINE", "invoices/P-OTHER/2024-01-04.txt", http.StatusNotFound},
		{auth.RoleDoctor, "D-MINE", "images/patients/P-LIVE.png", http.StatusOK},
		{auth.RoleDoctor, "D-OTHER", "images/patients/P-LIVE.png", http.StatusNotFound},
		{auth.RoleDoctor, "D-MINE", "images/doctors/D-OTHER.png", http.StatusOK},
		{auth.RoleDoctor, "", "invoices/P-MINE/2024-01-04.txt", http.StatusNotFound},
		{auth.RoleStaff, "", "invoices/P-OTHER/2024-01-04.txt", http.StatusOK},
	}
	for _, tt := range tests {
		if got := download(tt.role, tt.linked, tt.key); got != tt.code {
			t.Errorf("%s %q reading %s: expected %d, got %d", tt.role, tt.linked, tt.key, tt.code, got)
		}
	}
}
