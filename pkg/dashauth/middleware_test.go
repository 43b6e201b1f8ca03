package dashauth_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaydata/stripebridge/pkg/dashauth"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

func newTestApp(secrets []string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberErrorHandler})
	mw := dashauth.Middleware(dashauth.NewVerifier(secrets, 5*time.Minute))

	app.Get("/status", mw, func(c *fiber.Ctx) error {
		ac := dashauth.FromLocals(c)
		if !ac.IsValid() {
			return errx.Internal("auth context missing")
		}
		return c.JSON(fiber.Map{"tenant": ac.TenantID.String()})
	})
	app.Post("/provision", mw, func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func TestMiddlewareGetFromQuery(t *testing.T) {
	app := newTestApp([]string{"whsec_a"})
	header := signedHeader("usr_1", "acct_1", "whsec_a", time.Now())

	req := httptest.NewRequest(fiber.MethodGet, "/status?user_id=usr_1&account_id=acct_1", nil)
	req.Header.Set(dashauth.SignatureHeaderName, header)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMiddlewarePostFromBody(t *testing.T) {
	app := newTestApp([]string{"whsec_a"})
	header := signedHeader("usr_1", "acct_1", "whsec_a", time.Now())
	body := `{"user_id":"usr_1","account_id":"acct_1"}`

	req := httptest.NewRequest(fiber.MethodPost, "/provision", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(dashauth.SignatureHeaderName, header)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestMiddlewareStatusCodes(t *testing.T) {
	app := newTestApp([]string{"whsec_a"})
	good := signedHeader("usr_1", "acct_1", "whsec_a", time.Now())

	cases := []struct {
		name   string
		url    string
		header string
		want   int
	}{
		{"no header", "/status?user_id=usr_1&account_id=acct_1", "", fiber.StatusUnauthorized},
		{"no identifiers", "/status", good, fiber.StatusBadRequest},
		{"bad signature", "/status?user_id=usr_1&account_id=acct_1", signedHeader("usr_1", "acct_1", "whsec_wrong", time.Now()), fiber.StatusUnauthorized},
		{"signed for someone else", "/status?user_id=usr_1&account_id=acct_2", good, fiber.StatusUnauthorized},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(fiber.MethodGet, tc.url, nil)
		if tc.header != "" {
			req.Header.Set(dashauth.SignatureHeaderName, tc.header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: app.Test: %v", tc.name, err)
		}
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, resp.StatusCode, tc.want)
		}
	}
}

func TestMiddlewareMisconfigured(t *testing.T) {
	app := newTestApp(nil)
	req := httptest.NewRequest(fiber.MethodGet,
		fmt.Sprintf("/status?user_id=%s&account_id=%s", "usr_1", "acct_1"), nil)
	req.Header.Set(dashauth.SignatureHeaderName, signedHeader("usr_1", "acct_1", "whsec_a", time.Now()))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 when no secrets configured", resp.StatusCode)
	}
}

func TestCanonicalPayloadFieldOrder(t *testing.T) {
	got := dashauth.CanonicalPayload(kernel.UserID("usr_1"), kernel.TenantID("acct_1"))
	want := `{"user_id":"usr_1","account_id":"acct_1"}`
	if got != want {
		t.Fatalf("payload = %q, want %q", got, want)
	}
}
