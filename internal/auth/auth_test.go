// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/tidings/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newManager(t *testing.T, issuer string) *JWTManager {
	t.Helper()
	m, err := NewJWTManager(&config.SecurityConfig{AuthMode: ModeJWT, JWTSecret: testSecret, JWTIssuer: issuer})
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	return m
}

func TestNewJWTManagerRequiresSecret(t *testing.T) {
	t.Parallel()
	if _, err := NewJWTManager(&config.SecurityConfig{}); err == nil {
		t.Error("NewJWTManager() with empty secret succeeded")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	t.Parallel()
	m := newManager(t, "tidings")

	token, err := m.GenerateToken("ops", "admin", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "ops" || claims.Scope != "admin" || claims.Issuer != "tidings" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	t.Parallel()
	m := newManager(t, "tidings")

	expired := newManager(t, "tidings")
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expiredToken, _ := expired.GenerateToken("ops", "", time.Hour)

	otherIssuer, _ := newManager(t, "someone-else").GenerateToken("ops", "", time.Hour)

	other, _ := NewJWTManager(&config.SecurityConfig{JWTSecret: strings.Repeat("x", 32), JWTIssuer: "tidings"})
	wrongSecret, _ := other.GenerateToken("ops", "", time.Hour)

	noneAlg, _ := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tidings",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"expired":      expiredToken,
		"issuer":       otherIssuer,
		"wrong secret": wrongSecret,
		"alg none":     noneAlg,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.ValidateToken(token); err == nil {
				t.Error("ValidateToken() succeeded")
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	m := newManager(t, "tidings")
	good, _ := m.GenerateToken("ops", "", time.Hour)

	var gotSubject string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClaimsFromContext(r.Context()); ok {
			gotSubject = c.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		mode   string
		header string
		want   int
	}{
		{"valid", ModeJWT, "Bearer " + good, http.StatusNoContent},
		{"lowercase scheme", ModeJWT, "bearer " + good, http.StatusNoContent},
		{"missing", ModeJWT, "", http.StatusUnauthorized},
		{"basic", ModeJWT, "Basic b3BzOnB3", http.StatusUnauthorized},
		{"invalid", ModeJWT, "Bearer nope", http.StatusUnauthorized},
		{"mode none", ModeNone, "", http.StatusNoContent},
	}
	for _, tt := range tests {
		h := NewMiddleware(m, tt.mode).Authenticate(next)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deadletters", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
		if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s: missing WWW-Authenticate", tt.name)
		}
	}
	if gotSubject != "ops" {
		t.Errorf("subject in context = %q, want ops", gotSubject)
	}
}
