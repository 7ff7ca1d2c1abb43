package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestFromContext_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=50&offset=10", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	p := FromContext(c)

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?limit=1000", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if p := FromContext(c); p.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?offset=-5", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if p := FromContext(c); p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b"}
	resp := NewResponse(data, 10, 2, 0)

	if resp.Total != 10 {
		t.Errorf("expected total 10, got %d", resp.Total)
	}
	if !resp.HasMore {
		t.Error("expected has_more true")
	}

	last := NewResponse(data, 10, 2, 8)
	if last.HasMore {
		t.Error("expected has_more false on last page")
	}
}

func TestParams_HasNext(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		total int
		want  bool
	}{
		{"first page with more", Params{Limit: 10, Offset: 0}, 25, true},
		{"exact end", Params{Limit: 10, Offset: 20}, 30, false},
		{"empty", Params{Limit: 10, Offset: 0}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HasNext(tt.total); got != tt.want {
				t.Errorf("HasNext(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestParams_PreviousOffset(t *testing.T) {
	if got := (Params{Limit: 10, Offset: 5}).PreviousOffset(); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := (Params{Limit: 10, Offset: 25}).PreviousOffset(); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
}

func linkMap(links []Link) map[string]string {
	m := make(map[string]string)
	for _, l := range links {
		m[l.Relation] = l.URL
	}
	return m
}

func TestParams_Links_FirstPage(t *testing.T) {
	m := linkMap(Params{Limit: 10, Offset: 0}.Links("/api/v1/patients", 25))

	if m["self"] != "/api/v1/patients?offset=0&limit=10" {
		t.Errorf("unexpected self link %q", m["self"])
	}
	if m["next"] != "/api/v1/patients?offset=10&limit=10" {
		t.Errorf("unexpected next link %q", m["next"])
	}
	if _, ok := m["previous"]; ok {
		t.Error("did not expect 'previous' link on first page")
	}
}

func TestParams_Links_LastPage(t *testing.T) {
	m := linkMap(Params{Limit: 10, Offset: 20}.Links("/api/v1/rooms", 25))

	if _, ok := m["next"]; ok {
		t.Error("did not expect 'next' link on last page")
	}
	if m["previous"] != "/api/v1/rooms?offset=10&limit=10" {
		t.Errorf("unexpected previous link %q", m["previous"])
	}
}

func TestResponse_WithLinks(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/doctors?limit=1", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	resp := NewResponse([]int{1}, 3, 1, 0).WithLinks(c)
	m := linkMap(resp.Links)
	if m["next"] != "/api/v1/doctors?offset=1&limit=1" {
		t.Errorf("unexpected next link %q", m["next"])
	}
}
