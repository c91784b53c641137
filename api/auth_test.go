package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
}

func TestBearerTokenFromStringErrors(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   error
	}{
		{name: "empty", header: "   ", want: errMissingAuthorization},
		{name: "no scheme", header: "header.payload.signature", want: errBadAuthorization},
		{name: "basic", header: "Basic dXNlcjpwYXNz", want: errBadAuthorization},
		{name: "many periods", header: "Bearer " + strings.Repeat(".", 1000), want: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := bearerTokenFromString(tt.header); err != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
		"iat": time.Now().Add(-time.Minute).Unix(),
	})

	auth, err := NewAuth(AuthConfig{Audience: "api://aud", Issuer: "https://issuer/", SharedSecret: secret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromBearerRejectsWrongAudience(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://other",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	})

	auth, err := NewAuth(AuthConfig{Audience: "api://aud", SharedSecret: secret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if _, err := auth.UserIDFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected audience mismatch to be rejected")
	}
}

func TestUserIDFromBearerRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-10 * time.Minute).Unix(),
	})

	auth, err := NewAuth(AuthConfig{SharedSecret: secret})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	if _, err := auth.UserIDFromBearer([]byte(signed)); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestNewAuthRequiresKeys(t *testing.T) {
	if _, err := NewAuth(AuthConfig{}); err == nil {
		t.Fatal("expected error without JWKS or shared secret")
	}
}
