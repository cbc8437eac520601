package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRegisterAndLogin(t *testing.T) {
	auth, svc, _ := setupServices(t)
	ctx := context.Background()

	registered, apiErr := auth.Register(ctx, "  Person@Example.com ", "password123")
	if apiErr != nil {
		t.Fatalf("register: %v", apiErr)
	}
	if registered.User.Email != "person@example.com" {
		t.Fatalf("expected normalized email, got %q", registered.User.Email)
	}
	if registered.User.PasswordHash != "" {
		t.Fatalf("password hash must not leave the service")
	}

	// Registration stores default settings in the same step.
	settings, err := svc.repo.GetSettings(ctx, registered.User.ID)
	if err != nil {
		t.Fatalf("expected settings for new user: %v", err)
	}
	if settings.LongBreakInterval != 4 {
		t.Fatalf("unexpected settings %+v", settings)
	}

	if _, apiErr := auth.Register(ctx, "person@example.com", "password123"); apiErr == nil || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected conflict for duplicate email, got %v", apiErr)
	}

	loggedIn, apiErr := auth.Login(ctx, "PERSON@example.com", "password123")
	if apiErr != nil {
		t.Fatalf("login: %v", apiErr)
	}
	userID, apiErr := auth.ParseToken(loggedIn.Token)
	if apiErr != nil {
		t.Fatalf("parse token: %v", apiErr)
	}
	if userID != registered.User.ID {
		t.Fatalf("expected token for %s, got %s", registered.User.ID, userID)
	}

	if _, apiErr := auth.Login(ctx, "person@example.com", "wrong-password"); apiErr == nil || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong password, got %v", apiErr)
	}
	if _, apiErr := auth.Login(ctx, "nobody@example.com", "password123"); apiErr == nil || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for unknown user, got %v", apiErr)
	}
}

func TestRegisterValidation(t *testing.T) {
	auth, _, _ := setupServices(t)

	cases := []struct {
		name     string
		email    string
		password string
		code     string
	}{
		{"empty email", " ", "password123", "invalid_email"},
		{"missing at", "person.example.com", "password123", "invalid_email"},
		{"short password", "person@example.com", "12345", "invalid_password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, apiErr := auth.Register(context.Background(), tc.email, tc.password)
			if apiErr == nil || apiErr.Code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, apiErr)
			}
		})
	}
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	auth, _, _ := setupServices(t)
	ctx := context.Background()

	result, apiErr := auth.Register(ctx, "person@example.com", "password123")
	if apiErr != nil {
		t.Fatalf("register: %v", apiErr)
	}

	// Past expiry plus leeway.
	auth.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	if _, apiErr := auth.ParseToken(result.Token); apiErr == nil || apiErr.Message != "token expired" {
		t.Fatalf("expected expired token, got %v", apiErr)
	}
	auth.now = func() time.Time { return time.Now().UTC() }

	sign := func(claims jwt.RegisteredClaims, secret string) string {
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}
	expires := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", sign(jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "u1", ExpiresAt: expires}, "other-secret")},
		{"wrong issuer", sign(jwt.RegisteredClaims{Issuer: "elsewhere", Subject: "u1", ExpiresAt: expires}, "test-secret")},
		{"no expiry", sign(jwt.RegisteredClaims{Issuer: tokenIssuer, Subject: "u1"}, "test-secret")},
		{"no subject", sign(jwt.RegisteredClaims{Issuer: tokenIssuer, ExpiresAt: expires}, "test-secret")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, apiErr := auth.ParseToken(tc.token); apiErr == nil || apiErr.Status != http.StatusUnauthorized {
				t.Fatalf("expected unauthorized, got %v", apiErr)
			}
		})
	}
}
