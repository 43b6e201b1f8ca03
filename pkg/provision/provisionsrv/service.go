// Package provisionsrv drives the provisioning state machine. Every tick is
// one bounded unit of work under the tenant's advisory lock; the UI's status
// polling supplies the scheduling.
package provisionsrv

import (
	"context"
	"errors"
	"time"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/provision"
)

// readinessProbe is the single statement batch run against the tenant
// project while waiting for it to come up: prove the database answers,
// ensure the sync namespace exists, and read it back so success is
// observable in the returned rows.
const readinessProbe = `
SELECT 1;
CREATE SCHEMA IF NOT EXISTS stripe;
SELECT schema_name FROM information_schema.schemata WHERE schema_name = 'stripe';`

// passwordLength is the generated database password size.
const passwordLength = 24

// AuthClassifier lets the FSM distinguish credential rejections (terminal)
// from transient upstream failures (wait and retry).
type AuthClassifier interface {
	IsAuth() bool
}

// Locker serializes per-tenant work. Satisfied by dbx.AdvisoryLocker.
type Locker interface {
	WithLock(ctx context.Context, tenant kernel.TenantID, fn func(ctx context.Context) error) (bool, error)
}

type Settings struct {
	Region string

	// WaitDBReadyTimeout is wall-clock elapsed since wait_database_ready
	// was entered, measured off the row's updated_at.
	WaitDBReadyTimeout time.Duration

	// VerifySyncDelay is the minimum dwell in verify_sync before ready.
	VerifySyncDelay time.Duration
}

type Service struct {
	locker       Locker
	repo         provision.Repository
	controlPlane provision.ControlPlane
	installer    provision.Installer
	tokens       connect.TokenSource
	cipher       *cryptox.Cipher
	settings     Settings
	now          func() time.Time
}

func NewService(locker Locker, repo provision.Repository, controlPlane provision.ControlPlane, installer provision.Installer, tokens connect.TokenSource, cipher *cryptox.Cipher, settings Settings) *Service {
	if settings.WaitDBReadyTimeout <= 0 {
		settings.WaitDBReadyTimeout = 10 * time.Minute
	}
	if settings.VerifySyncDelay <= 0 {
		settings.VerifySyncDelay = 3 * time.Second
	}
	return &Service{
		locker:       locker,
		repo:         repo,
		controlPlane: controlPlane,
		installer:    installer,
		tokens:       tokens,
		cipher:       cipher,
		settings:     settings,
		now:          time.Now,
	}
}

// Start provisions a new project for the tenant. The plaintext password is
// generated here, sent to the control plane once, and persisted only as
// ciphertext.
func (s *Service) Start(ctx context.Context, tenant kernel.TenantID) (*provision.Database, error) {
	password, err := cryptox.RandomPassword(passwordLength)
	if err != nil {
		return nil, errx.Wrap(err, "failed to generate database password", errx.TypeInternal)
	}
	passwordCT, err := s.cipher.Encrypt([]byte(password))
	if err != nil {
		return nil, errx.Wrap(err, "failed to encrypt database password", errx.TypeInternal)
	}

	projectRef, err := s.controlPlane.CreateProject(ctx, "stripe-sync-"+tenant.String(), password, s.settings.Region)
	if err != nil {
		return nil, provision.ErrUpstream().WithCause(err)
	}

	step := provision.StepCreateProject
	row := provision.Database{
		TenantID:       tenant,
		ProjectRef:     projectRef,
		DBPasswordCT:   passwordCT,
		ConnectionHost: provision.PoolerHost(s.settings.Region),
		Region:         s.settings.Region,
		InstallStatus:  provision.StatusPending,
		InstallStep:    &step,
	}
	if err := s.repo.Insert(ctx, row); err != nil {
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"tenant":      tenant.Redacted(),
		"project_ref": projectRef,
	}).Info("provisioning started")
	return &row, nil
}

// Tick advances the machine by at most one step. When the advisory lock is
// held elsewhere the tick is a silent no-op: the next poll retries.
func (s *Service) Tick(ctx context.Context, tenant kernel.TenantID) error {
	acquired, err := s.locker.WithLock(ctx, tenant, func(ctx context.Context) error {
		return s.tick(ctx, tenant)
	})
	if err != nil {
		return err
	}
	if !acquired {
		logx.WithField("tenant", tenant.Redacted()).Debug("tick skipped, lock busy")
	}
	return nil
}

func (s *Service) tick(ctx context.Context, tenant kernel.TenantID) error {
	row, err := s.repo.Get(ctx, tenant)
	if err != nil {
		return err
	}
	if row.InstallStatus.Terminal() {
		return nil
	}

	switch row.Step() {
	case provision.StepCreateProject:
		// The project request already succeeded in Start; normalize into
		// the waiting state.
		return s.transition(ctx, tenant, provision.StatusProvisioning, provision.StepWaitDatabaseReady)

	case provision.StepWaitDatabaseReady:
		return s.tickWaitDatabaseReady(ctx, row)

	case provision.StepApplySchema:
		// Schema objects are created by the readiness probe; the step is
		// kept for forward-compatible ordering.
		return s.transition(ctx, tenant, provision.StatusInstalling, provision.StepVerifyConnection)

	case provision.StepVerifyConnection:
		return s.transition(ctx, tenant, provision.StatusSyncing, provision.StepStartSync)

	case provision.StepStartSync:
		return s.tickStartSync(ctx, row)

	case provision.StepVerifySync:
		if s.now().Sub(row.UpdatedAt) < s.settings.VerifySyncDelay {
			return nil
		}
		return s.transition(ctx, tenant, provision.StatusReady, provision.StepDone)

	default:
		logx.WithFields(logx.Fields{
			"tenant": tenant.Redacted(),
			"step":   string(row.Step()),
		}).Warn("unknown provisioning step, resetting")
		return s.transition(ctx, tenant, provision.StatusProvisioning, provision.StepWaitDatabaseReady)
	}
}

func (s *Service) tickWaitDatabaseReady(ctx context.Context, row *provision.Database) error {
	rows, err := s.controlPlane.RunQuery(ctx, row.ProjectRef, readinessProbe)
	if err == nil && schemaVisible(rows) {
		return s.transition(ctx, row.TenantID, provision.StatusInstalling, provision.StepApplySchema)
	}

	var auth AuthClassifier
	if errors.As(err, &auth) && auth.IsAuth() {
		return s.fail(ctx, row.TenantID, provision.StepWaitDatabaseReady, "control plane rejected credentials during readiness wait")
	}

	if s.now().Sub(row.UpdatedAt) > s.settings.WaitDBReadyTimeout {
		return s.fail(ctx, row.TenantID, provision.StepWaitDatabaseReady, "timed out waiting for database to become ready")
	}

	// Not ready yet; stay and let the next poll probe again.
	if err != nil {
		logx.WithFields(logx.Fields{
			"tenant":      row.TenantID.Redacted(),
			"project_ref": row.ProjectRef,
		}).Debug("database not ready yet")
	}
	return nil
}

func (s *Service) tickStartSync(ctx context.Context, row *provision.Database) error {
	token, err := s.freshToken(ctx, row.TenantID)
	if err != nil {
		return s.fail(ctx, row.TenantID, provision.StepStartSync, "could not obtain access token for sync install: "+err.Error())
	}

	// One installer invocation per tick; a failure is terminal and requires
	// a user-initiated retry, which deletes the row and restarts.
	if err := s.installer.Install(ctx, token); err != nil {
		return s.fail(ctx, row.TenantID, provision.StepStartSync, "sync install failed: "+err.Error())
	}
	return s.transition(ctx, row.TenantID, provision.StatusSyncing, provision.StepVerifySync)
}

// freshToken prefers the live connection and falls back to test. The FSM row
// is keyed by tenant alone, so whichever mode the tenant connected in drives
// the sync.
func (s *Service) freshToken(ctx context.Context, tenant kernel.TenantID) (string, error) {
	token, err := s.tokens.FreshAccessToken(ctx, tenant, kernel.ModeLive)
	if err == nil {
		return token, nil
	}
	if errx.IsCode(err, connect.CodeNotConnected) || errx.IsCode(err, connect.CodeModeMismatch) {
		return s.tokens.FreshAccessToken(ctx, tenant, kernel.ModeTest)
	}
	return "", err
}

// Deprovision removes the external project first, then the local row. A
// failure deleting upstream leaves the row in place: an orphaned row is
// recoverable, an orphaned project is invisible.
func (s *Service) Deprovision(ctx context.Context, tenant kernel.TenantID) error {
	acquired, err := s.locker.WithLock(ctx, tenant, func(ctx context.Context) error {
		row, err := s.repo.Get(ctx, tenant)
		if err != nil {
			return err
		}
		if err := s.controlPlane.DeleteProject(ctx, row.ProjectRef); err != nil {
			return provision.ErrUpstream().WithCause(err)
		}
		if err := s.repo.Delete(ctx, tenant); err != nil {
			return err
		}
		logx.WithFields(logx.Fields{
			"tenant":      tenant.Redacted(),
			"project_ref": row.ProjectRef,
		}).Info("database deprovisioned")
		return nil
	})
	if err != nil {
		return err
	}
	if !acquired {
		return provision.ErrLockBusy()
	}
	return nil
}

// Get loads the row for the tenant.
func (s *Service) Get(ctx context.Context, tenant kernel.TenantID) (*provision.Database, error) {
	return s.repo.Get(ctx, tenant)
}

// Reset drops only the local row so a failed provisioning run can be retried
// with a fresh project. The external project, if any, is left for Deprovision.
func (s *Service) Reset(ctx context.Context, tenant kernel.TenantID) error {
	return s.repo.Delete(ctx, tenant)
}

// ConnectionString decrypts the stored password and formats the DSN. Only
// called for ready rows; the plaintext lives in the response body and
// nowhere else.
func (s *Service) ConnectionString(row *provision.Database) (string, error) {
	password, err := s.cipher.Decrypt(row.DBPasswordCT)
	if err != nil {
		return "", errx.Wrap(err, "failed to decrypt database password", errx.TypeInternal)
	}
	return row.ConnectionString(string(password)), nil
}

func (s *Service) transition(ctx context.Context, tenant kernel.TenantID, status provision.Status, step provision.Step) error {
	if err := s.repo.UpdateState(ctx, tenant, status, step, nil); err != nil {
		return err
	}
	logx.WithFields(logx.Fields{
		"tenant": tenant.Redacted(),
		"status": string(status),
		"step":   string(step),
	}).Info("provisioning advanced")
	return nil
}

// fail moves the row to the terminal error state with a sanitized message,
// leaving the step at where it failed.
func (s *Service) fail(ctx context.Context, tenant kernel.TenantID, step provision.Step, message string) error {
	clean := provision.Sanitize(message)
	if err := s.repo.UpdateState(ctx, tenant, provision.StatusError, step, &clean); err != nil {
		return err
	}
	logx.WithFields(logx.Fields{
		"tenant": tenant.Redacted(),
		"error":  clean,
	}).Warn("provisioning failed")
	return nil
}

func schemaVisible(rows []map[string]any) bool {
	for _, row := range rows {
		if name, ok := row["schema_name"].(string); ok && name == "stripe" {
			return true
		}
	}
	return false
}
