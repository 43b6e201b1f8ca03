// Package provisionapi exposes the dashboard-facing provisioning endpoints.
// Every route runs behind the signature middleware; the tenant id always
// comes from the verified auth context, never from the request.
package provisionapi

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaydata/stripebridge/pkg/dashauth"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/provision"
)

// Service is what the handlers need from provisionsrv.Service.
type Service interface {
	Start(ctx context.Context, tenant kernel.TenantID) (*provision.Database, error)
	Tick(ctx context.Context, tenant kernel.TenantID) error
	Get(ctx context.Context, tenant kernel.TenantID) (*provision.Database, error)
	Reset(ctx context.Context, tenant kernel.TenantID) error
	Deprovision(ctx context.Context, tenant kernel.TenantID) error
	ConnectionString(row *provision.Database) (string, error)
}

type Handlers struct {
	service Service
}

func NewHandlers(service Service) *Handlers {
	return &Handlers{service: service}
}

func (h *Handlers) RegisterRoutes(app fiber.Router, auth fiber.Handler) {
	app.Get("/status", auth, h.status)
	app.Post("/provision", auth, h.provision)
	app.Delete("/provision", auth, h.deprovision)
}

type statusResponse struct {
	Status           string    `json:"status"`
	Step             string    `json:"step"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
	ProjectRef       string    `json:"project_ref"`
	ConnectionString string    `json:"connection_string,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// status runs one tick for non-terminal rows, then reports current state. A
// tick failure never fails the poll: it is logged and the prior state wins.
func (h *Handlers) status(c *fiber.Ctx) error {
	tenant := h.tenant(c)

	row, err := h.service.Get(c.Context(), tenant)
	if err != nil {
		return err
	}

	if !row.InstallStatus.Terminal() {
		if err := h.service.Tick(c.Context(), tenant); err != nil {
			logx.WithField("tenant", tenant.Redacted()).WithError(err).Warn("status tick failed")
		} else if fresh, err := h.service.Get(c.Context(), tenant); err == nil {
			row = fresh
		}
	}

	return c.JSON(h.toResponse(row))
}

// provision is idempotent: a live row reports its state, an errored row is
// reset and restarted, a missing row starts fresh with 202.
func (h *Handlers) provision(c *fiber.Ctx) error {
	tenant := h.tenant(c)

	row, err := h.service.Get(c.Context(), tenant)
	switch {
	case err == nil && row.InstallStatus != provision.StatusError:
		return c.JSON(h.toResponse(row))
	case err == nil:
		if err := h.service.Reset(c.Context(), tenant); err != nil {
			return err
		}
	case !errx.IsCode(err, provision.CodeNotProvisioned):
		return err
	}

	fresh, err := h.service.Start(c.Context(), tenant)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(h.toResponse(fresh))
}

func (h *Handlers) deprovision(c *fiber.Ctx) error {
	tenant := h.tenant(c)
	if err := h.service.Deprovision(c.Context(), tenant); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *Handlers) tenant(c *fiber.Ctx) kernel.TenantID {
	return dashauth.FromLocals(c).TenantID
}

func (h *Handlers) toResponse(row *provision.Database) statusResponse {
	resp := statusResponse{
		Status:       string(row.InstallStatus),
		Step:         string(row.Step()),
		ErrorMessage: row.ErrorMessage,
		ProjectRef:   row.ProjectRef,
		CreatedAt:    row.CreatedAt,
	}
	if row.InstallStatus == provision.StatusReady {
		if dsn, err := h.service.ConnectionString(row); err == nil {
			resp.ConnectionString = dsn
		} else {
			logx.WithField("tenant", row.TenantID.Redacted()).WithError(err).Error("connection string unavailable")
		}
	}
	return resp
}
