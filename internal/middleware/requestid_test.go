package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/pricepin/pricepin/internal/logging"
)

type statusCounts map[int]int

func (s statusCounts) HTTPStatus(code int) { s[code]++ }

func TestRequestIDAndAudit(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "json")
	counts := statusCounts{}

	app := fiber.New()
	app.Use(RequestID())
	app.Use(Audit(logger, counts))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	req := httptest.NewRequest(fiber.MethodGet, "/ok?delete_token=secret", nil)
	req.Header.Set(requestIDHeader, "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-1" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}

	if counts[200] != 1 || counts[404] != 1 {
		t.Fatalf("unexpected status counts %v", counts)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if strings.Contains(buf.String(), "secret") {
		t.Fatalf("query string leaked into logs: %s", buf.String())
	}
	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if first["request_id"] != "req-1" || first["path"] != "/ok" {
		t.Fatalf("unexpected log line %v", first)
	}
}
