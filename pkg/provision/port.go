package provision

import (
	"context"

	"github.com/relaydata/stripebridge/pkg/kernel"
)

// Repository persists the FSM rows.
type Repository interface {
	Insert(ctx context.Context, db Database) error

	// Get returns ErrNotProvisioned when no row exists.
	Get(ctx context.Context, tenant kernel.TenantID) (*Database, error)

	// UpdateState writes status, step and (sanitized) error message and
	// bumps updated_at, which doubles as the step-entry clock for timeouts.
	UpdateState(ctx context.Context, tenant kernel.TenantID, status Status, step Step, errMsg *string) error

	Delete(ctx context.Context, tenant kernel.TenantID) error
}

// ControlPlane is the managed-Postgres provider's HTTP API.
type ControlPlane interface {
	// CreateProject returns the new project ref. The plaintext password is
	// transmitted here and nowhere else.
	CreateProject(ctx context.Context, name, password, region string) (string, error)

	// RunQuery executes SQL against the project and returns the rows of the
	// final statement as loosely-typed JSON objects.
	RunQuery(ctx context.Context, projectRef, sql string) ([]map[string]any, error)

	DeleteProject(ctx context.Context, projectRef string) error
}

// Installer starts the data sync for a tenant. The FSM calls it at most once
// per tick; any internal retries must stay bounded.
type Installer interface {
	Install(ctx context.Context, accessToken string) error
}
