package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parlor/parlor/internal/auth"
	"github.com/parlor/parlor/internal/model"
)

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name       string
		scopes     []string
		required   []string
		wantStatus int
	}{
		{"read allows read", []string{model.ScopeRead}, []string{model.ScopeRead}, http.StatusOK},
		{"write allows write", []string{model.ScopeWrite}, []string{model.ScopeWrite}, http.StatusOK},
		{"admin implies read", []string{model.ScopeAdmin}, []string{model.ScopeRead}, http.StatusOK},
		{"admin implies write", []string{model.ScopeAdmin}, []string{model.ScopeWrite}, http.StatusOK},
		{"read denied admin", []string{model.ScopeRead}, []string{model.ScopeAdmin}, http.StatusForbidden},
		{"write denied admin", []string{model.ScopeWrite}, []string{model.ScopeAdmin}, http.StatusForbidden},
		{"read denied write", []string{model.ScopeRead}, []string{model.ScopeWrite}, http.StatusForbidden},
		{"no scopes denied", nil, []string{model.ScopeRead}, http.StatusForbidden},
		{"any of several", []string{model.ScopeWrite}, []string{model.ScopeAdmin, model.ScopeWrite}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireScope(tt.required...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{
				KeyID:  "key-1",
				UserID: "user-1",
				Scopes: tt.scopes,
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireScope_Unauthenticated(t *testing.T) {
	for name, mw := range map[string]func(http.Handler) http.Handler{
		"read":  RequireRead(),
		"write": RequireWrite(),
		"admin": RequireAdmin(),
	} {
		t.Run(name, func(t *testing.T) {
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler reached without auth")
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}
