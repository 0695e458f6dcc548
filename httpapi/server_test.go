package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	meross "github.com/nerrad567/meross-go"
	"github.com/nerrad567/meross-go/config"
	"github.com/nerrad567/meross-go/model"
)

func testManager(t *testing.T) *meross.Manager {
	t.Helper()
	creds := model.Credentials{
		Token:     "tok",
		Key:       "key",
		UserID:    "1",
		UserEmail: "user@example.com",
		IssuedAt:  time.Now(),
	}
	m, err := meross.New(meross.Config{Credentials: &creds})
	if err != nil {
		t.Fatalf("meross.New() error = %v", err)
	}
	return m
}

func testServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Deps{
		Config:  config.Default().API,
		Manager: testManager(t),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewRequiresManager(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New() without manager should fail")
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestListDevicesEmpty(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Count != 0 {
		t.Errorf("count = %d, want 0", body.Count)
	}
}

func TestGetUnknownDevice(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/no-such-uuid/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if apiErr.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeNotFound)
	}
}

func TestHistoryDisabled(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/any/history", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestDiscoverWithoutTransport(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/discovery/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Client    json.RawMessage `json:"client"`
		RateLimit json.RawMessage `json:"rate_limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Client) == 0 || len(body.RateLimit) == 0 {
		t.Error("stats body missing sections")
	}
}

func TestRequestIDHeader(t *testing.T) {
	router := testServer(t).buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Errorf("X-Request-ID = %q, want abc123", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("generated request ID missing")
	}
}
