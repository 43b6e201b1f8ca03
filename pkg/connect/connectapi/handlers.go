// Package connectapi exposes the OAuth install and callback endpoints. These
// are browser-facing and unauthenticated: the single-use state carries the
// CSRF protection.
package connectapi

import (
	"context"
	"html"

	"github.com/gofiber/fiber/v2"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// Service is what the handlers need from connectsrv.Service.
type Service interface {
	InstallURL(ctx context.Context, mode kernel.Mode) (string, error)
	HandleCallback(ctx context.Context, code, state, accountHint string) (*connect.Connection, error)
}

type Handlers struct {
	service Service
}

func NewHandlers(service Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) RegisterRoutes(app fiber.Router) {
	app.Get("/oauth/install", h.install)
	app.Get("/oauth/callback", h.callback)
}

func (h *Handlers) install(c *fiber.Ctx) error {
	mode := kernel.ParseMode(c.Query("mode"))
	target, err := h.service.InstallURL(c.Context(), mode)
	if err != nil {
		return err
	}
	return c.Redirect(target, fiber.StatusFound)
}

// callback never echoes the code, state, or any token back into the page.
func (h *Handlers) callback(c *fiber.Ctx) error {
	conn, err := h.service.HandleCallback(c.Context(), c.Query("code"), c.Query("state"), c.Query("account"))
	if err != nil {
		var ex *errx.Error
		if errx.As(err, &ex) {
			return renderHTML(c, ex.HTTPStatus, "Installation failed", ex.Message)
		}
		logx.WithError(err).Error("oauth callback failed")
		return renderHTML(c, fiber.StatusInternalServerError, "Installation failed", "An unexpected error occurred.")
	}

	return renderHTML(c, fiber.StatusOK, "Installation complete",
		"Your account is now connected in "+conn.Mode().String()+" mode. You can close this window.")
}

func renderHTML(c *fiber.Ctx, status int, title, message string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).SendString(
		"<!doctype html><html><head><title>" + html.EscapeString(title) +
			"</title></head><body><h1>" + html.EscapeString(title) +
			"</h1><p>" + html.EscapeString(message) + "</p></body></html>")
}
