package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/auth"
	"github.com/pricepin/pricepin/internal/identity"
)

func setupSessionApp(t *testing.T) (*fiber.App, *auth.Sessions) {
	t.Helper()
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	app := fiber.New()
	app.Get("/api/me", RequireUser(sessions), func(c *fiber.Ctx) error {
		return c.SendString(auth.UserID(c))
	})
	return app, sessions
}

func TestRequireUser(t *testing.T) {
	app, sessions := setupSessionApp(t)
	token, _, err := sessions.Issue(identity.User{ID: "user-42", Role: identity.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"bearer", func(r *http.Request) { r.Header.Set(fiber.HeaderAuthorization, "Bearer "+token) }, fiber.StatusOK, "user-42"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.SessionCookie, Value: token}) }, fiber.StatusOK, "user-42"},
		{"missing", func(*http.Request) {}, fiber.StatusUnauthorized, ""},
		{"tampered", func(r *http.Request) { r.Header.Set(fiber.HeaderAuthorization, "Bearer "+token+"x") }, fiber.StatusUnauthorized, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/api/me", nil)
			tc.setup(req)
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.StatusCode)
			}
			if tc.body != "" {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != tc.body {
					t.Fatalf("expected %q got %q", tc.body, body)
				}
			}
		})
	}
}
