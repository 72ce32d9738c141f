package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"navi/internal/http/middleware"
	"navi/internal/infra"
)

// recordingVerifier returns a fixed result and remembers the token it saw.
type recordingVerifier struct {
	token *infra.FirebaseToken
	err   error
	seen  string
}

func (v *recordingVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	v.seen = raw
	return v.token, v.err
}

type caller struct {
	UID  string `json:"uid"`
	Role string `json:"role"`
}

func serveWhoAmI(verifier infra.TokenVerifier, authHeader string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, caller{UID: middleware.CallerUID(c), Role: middleware.CallerRole(c)})
	})
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	driver := &infra.FirebaseToken{UID: "device-7", Claims: map[string]interface{}{}}
	admin := &infra.FirebaseToken{UID: "ops-1", Claims: map[string]interface{}{"role": "fleet_admin"}}

	tests := []struct {
		name     string
		verifier infra.TokenVerifier
		header   string
		status   int
		want     caller
	}{
		{"no header", &recordingVerifier{token: driver}, "", http.StatusUnauthorized, caller{}},
		{"wrong scheme", &recordingVerifier{token: driver}, "Token abc", http.StatusUnauthorized, caller{}},
		{"empty bearer", &recordingVerifier{token: driver}, "Bearer   ", http.StatusUnauthorized, caller{}},
		{"rejected token", &recordingVerifier{err: errors.New("expired")}, "Bearer abc", http.StatusUnauthorized, caller{}},
		{"nil token", &recordingVerifier{}, "Bearer abc", http.StatusUnauthorized, caller{}},
		{"device caller", &recordingVerifier{token: driver}, "Bearer abc", http.StatusOK, caller{UID: "device-7"}},
		{"admin caller", &recordingVerifier{token: admin}, "Bearer abc", http.StatusOK, caller{UID: "ops-1", Role: "fleet_admin"}},
		{"auth disabled", nil, "", http.StatusOK, caller{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWhoAmI(tt.verifier, tt.header)
			if w.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, w.Code, w.Body.String())
			}
			if tt.status != http.StatusOK {
				return
			}
			var got caller
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestAuth_PassesTrimmedToken(t *testing.T) {
	v := &recordingVerifier{token: &infra.FirebaseToken{UID: "u"}}
	serveWhoAmI(v, "Bearer  id-token ")
	if v.seen != "id-token" {
		t.Fatalf("verifier saw %q", v.seen)
	}
}

func TestRecovery_ReturnsJSON500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Recovery(nil))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal error") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}
