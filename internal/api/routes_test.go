package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/radio-control/daxiq/internal/auth"
	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/session"
	"github.com/radio-control/daxiq/internal/setup"
)

type fakeSession struct {
	running  bool
	startErr error
	starts   int
	stops    int
}

func (f *fakeSession) Snapshot() session.Snapshot {
	return session.Snapshot{
		Source:       "FLEX-6600 @ 127.0.0.1",
		Running:      f.running,
		State:        "STREAMING",
		StreamID:     "0x20000000",
		FrequencyMHz: 14.1,
		BandwidthHz:  200000,
		DAXChannel:   1,
	}
}

func (f *fakeSession) Stats() receiver.Stats {
	return receiver.Stats{Accepted: 42, Missed: 2}
}

func (f *fakeSession) Panadapters() []setup.Panadapter {
	return []setup.Panadapter{{ID: 0x40000000, CenterMHz: 14.1, HasCenter: true}}
}

func (f *fakeSession) Running() bool { return f.running }

func (f *fakeSession) Start(ctx context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeSession) Stop() {
	f.stops++
	f.running = false
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Expected JSON envelope, got %v", err)
	}
	return resp
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	sess := &fakeSession{}
	h := NewServer(Deps{Session: sess}, time.Second, time.Second).Handler()

	rec := serve(h, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while idle, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Code != "SERVICE_DEGRADED" {
		t.Errorf("Expected SERVICE_DEGRADED, got %s", resp.Code)
	}

	sess.running = true
	rec = serve(h, http.MethodGet, "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 while running, got %d", rec.Code)
	}
}

func TestReadEndpoints(t *testing.T) {
	feed := NewIQFeed(4)
	h := NewServer(Deps{Session: &fakeSession{running: true}, Feed: feed}, time.Second, time.Second).Handler()

	tests := []struct {
		path     string
		contains string
	}{
		{"/api/v1/status", `"stream_id":"0x20000000"`},
		{"/api/v1/stats", `"accepted":42`},
		{"/api/v1/stats", `"subscribers":0`},
		{"/api/v1/pans", `"id":1073741824`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.contains) {
				t.Errorf("Expected body to contain %s, got %s", tt.contains, body)
			}
			if !strings.Contains(body, `"result":"ok"`) {
				t.Errorf("Expected ok envelope, got %s", body)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewServer(Deps{Session: &fakeSession{}}, time.Second, time.Second).Handler()

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/status"},
		{http.MethodDelete, "/api/v1/pans"},
		{http.MethodGet, "/api/v1/session/start"},
		{http.MethodGet, "/api/v1/session/stop"},
	}
	for _, tt := range tests {
		if rec := serve(h, tt.method, tt.path); rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected 405 for %s %s, got %d", tt.method, tt.path, rec.Code)
		}
	}
}

func TestSessionControl(t *testing.T) {
	sess := &fakeSession{}
	h := NewServer(Deps{Session: sess}, time.Second, time.Second).Handler()

	rec := serve(h, http.MethodPost, "/api/v1/session/start")
	if rec.Code != http.StatusOK || !sess.running {
		t.Errorf("Expected started session, got %d running=%v", rec.Code, sess.running)
	}

	sess.startErr = session.ErrAlreadyStarted
	rec = serve(h, http.MethodPost, "/api/v1/session/start")
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}

	sess.startErr = &session.StartError{Step: session.StepResolve, Err: session.ErrDiscoveryEmpty}
	rec = serve(h, http.MethodPost, "/api/v1/session/start")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = serve(h, http.MethodPost, "/api/v1/session/stop")
	if rec.Code != http.StatusOK || sess.running || sess.stops != 1 {
		t.Errorf("Expected stopped session, got %d running=%v stops=%d", rec.Code, sess.running, sess.stops)
	}
}

func TestUnavailableSubsystems(t *testing.T) {
	h := NewServer(Deps{Session: &fakeSession{}}, time.Second, time.Second).Handler()

	for _, path := range []string{"/api/v1/telemetry", "/api/v1/iq"} {
		if rec := serve(h, http.MethodGet, path); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503 for %s, got %d", path, rec.Code)
		}
	}
	if rec := serve(h, http.MethodGet, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for /metrics without a handler, got %d", rec.Code)
	}
}

func TestRoutesRequireScopes(t *testing.T) {
	const secret = "api-test-secret"
	m, err := auth.FromConfig(auth.VerifierConfig{Algorithm: "HS256", SecretKey: secret})
	if err != nil {
		t.Fatalf("Failed to create middleware: %v", err)
	}
	h := NewServer(Deps{Session: &fakeSession{}, Auth: m}, time.Second, time.Second).Handler()

	token := func(scopes ...string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":    "viewer",
			"scopes": scopes,
			"exp":    time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("Failed to sign token: %v", err)
		}
		return s
	}

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health without token", http.MethodGet, "/api/v1/health", "", http.StatusServiceUnavailable},
		{"status without token", http.MethodGet, "/api/v1/status", "", http.StatusUnauthorized},
		{"status with read", http.MethodGet, "/api/v1/status", token(auth.ScopeRead), http.StatusOK},
		{"start with read", http.MethodPost, "/api/v1/session/start", token(auth.ScopeRead), http.StatusForbidden},
		{"start with control", http.MethodPost, "/api/v1/session/start", token(auth.ScopeControl), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
