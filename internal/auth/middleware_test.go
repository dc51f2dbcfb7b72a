package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddlewareDisabled(t *testing.T) {
	m, err := FromConfig(VerifierConfig{Algorithm: "HS256"})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if m.Enabled() {
		t.Fatal("Expected auth disabled without key material")
	}

	rec := httptest.NewRecorder()
	m.Protect(okHandler, ScopeRead)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareEnforcesTokens(t *testing.T) {
	m, err := FromConfig(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	readToken := signHS256(t, validClaims(ScopeRead), testSecret)

	tests := []struct {
		name   string
		path   string
		header string
		query  string
		scope  string
		want   int
	}{
		{"health exempt", HealthPath, "", "", ScopeRead, http.StatusOK},
		{"missing token", "/api/v1/status", "", "", ScopeRead, http.StatusUnauthorized},
		{"malformed header", "/api/v1/status", "Token abc", "", ScopeRead, http.StatusUnauthorized},
		{"invalid token", "/api/v1/status", "Bearer junk", "", ScopeRead, http.StatusUnauthorized},
		{"valid token", "/api/v1/status", "Bearer " + readToken, "", ScopeRead, http.StatusOK},
		{"missing scope", "/api/v1/iq", "Bearer " + readToken, "", ScopeStream, http.StatusForbidden},
		{"query token", "/api/v1/status", "", "?access_token=" + readToken, ScopeRead, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.Protect(okHandler, tt.scope)(rec, req)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want != http.StatusOK {
				var body map[string]interface{}
				if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
					t.Fatalf("Expected JSON body, got %v", err)
				}
				if body["result"] != "error" || body["correlationId"] == "" {
					t.Errorf("Expected error envelope, got %v", body)
				}
			}
		})
	}
}

func TestClaimsInContext(t *testing.T) {
	m, _ := FromConfig(VerifierConfig{Algorithm: "HS256", SecretKey: testSecret})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer "+signHS256(t, validClaims(ScopeRead), testSecret))

	var got *Claims
	m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		got = GetClaimsFromRequest(r)
	})(httptest.NewRecorder(), req)

	if got == nil || got.Subject != "operator-1" {
		t.Errorf("Expected claims for operator-1, got %+v", got)
	}
}
