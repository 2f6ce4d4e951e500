package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, secret, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth(secret)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, called
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	e := echo.New()
	signed := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub":  "ops-1",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := Auth("secret")(func(c echo.Context) error {
		called = true
		if c.Get(ContextOperator) != "ops-1" {
			t.Fatalf("operator not set")
		}
		if c.Get(ContextRole) != "admin" {
			t.Fatalf("role not set")
		}
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !called {
		t.Fatalf("next not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	valid := jwt.MapClaims{"sub": "ops-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix()}

	tests := []struct {
		name   string
		secret string
		header string
	}{
		{"missing header", "secret", ""},
		{"invalid header format", "secret", "Token abc"},
		{"invalid token", "secret", "Bearer not-a-token"},
		{"wrong secret", "secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), valid)},
		{"wrong algorithm", "secret", "Bearer " + sign(t, jwt.SigningMethodHS512, []byte("secret"), valid)},
		{"expired", "secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
			"sub": "ops-1", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix(),
		})},
		{"no expiry", "secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
			"sub": "ops-1", "role": "admin",
		})},
		{"unconfigured secret", "", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("secret"), valid)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, called := runAuth(t, tc.secret, tc.header)
			if called {
				t.Fatal("should not reach next")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
