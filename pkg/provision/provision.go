// Package provision is the database provisioning bounded context: a
// tick-driven state machine that creates a managed Postgres project for a
// tenant, waits for it to come up, and starts the data sync installer.
package provision

import (
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusProvisioning Status = "provisioning"
	StatusInstalling   Status = "installing"
	StatusSyncing      Status = "syncing"
	StatusReady        Status = "ready"
	StatusError        Status = "error"
)

// Terminal reports whether ticks should leave the row alone.
func (s Status) Terminal() bool { return s == StatusReady || s == StatusError }

type Step string

const (
	StepCreateProject     Step = "create_project"
	StepWaitDatabaseReady Step = "wait_database_ready"
	StepApplySchema       Step = "apply_schema"
	StepVerifyConnection  Step = "verify_connection"
	StepStartSync         Step = "start_sync"
	StepVerifySync        Step = "verify_sync"
	StepDone              Step = "done"
)

// Database is the persisted FSM row. Keyed by tenant alone: a tenant gets
// one provisioned database total, regardless of mode.
type Database struct {
	TenantID       kernel.TenantID `db:"tenant_id"`
	ProjectRef     string          `db:"project_ref"`
	DBPasswordCT   string          `db:"db_password_ct"`
	ConnectionHost string          `db:"connection_host"`
	Region         string          `db:"region"`
	InstallStatus  Status          `db:"install_status"`
	InstallStep    *Step           `db:"install_step"`
	ErrorMessage   *string         `db:"error_message"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// Step returns the current step, treating an absent one as create_project
// so freshly inserted rows normalize on the first tick.
func (d *Database) Step() Step {
	if d.InstallStep == nil {
		return StepCreateProject
	}
	return *d.InstallStep
}

// PoolerHost is the connection host persisted at provisioning time. The
// hostname pattern is part of the stored contract.
func PoolerHost(region string) string {
	return fmt.Sprintf("aws-1-%s.pooler.supabase.com", region)
}

// ConnectionString formats the tenant-facing DSN from the row and the
// decrypted database password.
func (d *Database) ConnectionString(password string) string {
	return fmt.Sprintf("postgresql://postgres.%s:%s@%s:5432/postgres",
		d.ProjectRef, password, d.ConnectionHost)
}

// ---------------------------------------------------------------------------
// Error registry
// ---------------------------------------------------------------------------

var ErrRegistry = errx.NewRegistry("PROVISION")

var (
	CodeNotProvisioned = ErrRegistry.Register("NOT_PROVISIONED", errx.TypeNotFound, http.StatusNotFound,
		"No database has been provisioned for this account")
	CodeLockBusy = ErrRegistry.Register("LOCK_BUSY", errx.TypeConflict, http.StatusConflict,
		"Another operation is in progress for this account")
	CodeUpstream = ErrRegistry.Register("UPSTREAM", errx.TypeExternal, http.StatusBadGateway,
		"The database control plane returned an error")
)

func ErrNotProvisioned() *errx.Error { return ErrRegistry.New(CodeNotProvisioned) }
func ErrLockBusy() *errx.Error       { return ErrRegistry.New(CodeLockBusy) }
func ErrUpstream() *errx.Error       { return ErrRegistry.New(CodeUpstream) }

// ---------------------------------------------------------------------------
// Error sanitation
// ---------------------------------------------------------------------------

// Bearer runs first so "Bearer sk_..." collapses to a single marker instead
// of leaving a dangling scheme prefix.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Bearer\s+[A-Za-z0-9_\-\.=]+`),
	regexp.MustCompile(`(sk|rk|pk)_(live|test)_[A-Za-z0-9]+`),
	regexp.MustCompile(`rt_[A-Za-z0-9]+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_\-\.]+`),
}

// Sanitize strips credential material from a message before it is persisted
// or logged. Every error string headed for the FSM row goes through here.
func Sanitize(message string) string {
	for _, re := range redactPatterns {
		message = re.ReplaceAllString(message, "[REDACTED]")
	}
	return message
}
