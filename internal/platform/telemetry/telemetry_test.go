package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProvider_Operation(t *testing.T) {
	p := NewProvider(false)
	p.Operation("discharge", nil)
	p.Operation("discharge", nil)
	p.Operation("discharge", errors.New("boom"))

	if got := testutil.ToFloat64(p.operations.WithLabelValues("discharge", "ok")); got != 2 {
		t.Errorf("expected 2 ok, got %v", got)
	}
	if got := testutil.ToFloat64(p.operations.WithLabelValues("discharge", "error")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestProvider_Billed(t *testing.T) {
	p := NewProvider(false)
	p.Billed(3, 300)
	p.Billed(1, 200)

	if got := testutil.ToFloat64(p.billedTotal); got != 500 {
		t.Errorf("expected billed total 500, got %v", got)
	}
	if n := testutil.CollectAndCount(p.stayDays); n != 1 {
		t.Errorf("expected one stay histogram, got %d", n)
	}
}

func TestProvider_Gauges(t *testing.T) {
	p := NewProvider(false)
	p.SetOccupiedRooms(4)
	p.SetDBPool(10, 7, 3)
	p.BookingDecided("APPROVED")

	if got := testutil.ToFloat64(p.occupiedRooms); got != 4 {
		t.Errorf("expected 4 occupied rooms, got %v", got)
	}
	if got := testutil.ToFloat64(p.dbPoolConns.WithLabelValues("acquired")); got != 3 {
		t.Errorf("expected 3 acquired, got %v", got)
	}
	if got := testutil.ToFloat64(p.bookings.WithLabelValues("APPROVED")); got != 1 {
		t.Errorf("expected 1 approved, got %v", got)
	}
}

func TestMetricsMiddleware_RecordsRoute(t *testing.T) {
	p := NewProvider(false)
	e := echo.New()
	e.Use(p.MetricsMiddleware())
	e.GET("/api/v1/rooms/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "room")
	})
	e.GET("/api/v1/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "occupied")
	})

	for _, path := range []string{"/api/v1/rooms/R1", "/api/v1/rooms/R2", "/api/v1/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	if n := testutil.CollectAndCount(p.requestDuration); n != 2 {
		t.Errorf("expected 2 label sets (route+status), got %d", n)
	}
	if got := testutil.ToFloat64(p.activeRequests); got != 0 {
		t.Errorf("expected no active requests, got %v", got)
	}
}

func TestHandler_Exposition(t *testing.T) {
	p := NewProvider(false)
	p.Operation("assign_room", nil)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics", nil), rec)
	if err := p.Handler()(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `hms_operations_total{operation="assign_room",outcome="ok"} 1`) {
		t.Errorf("expected operation counter in exposition, got:\n%s", body)
	}
}
