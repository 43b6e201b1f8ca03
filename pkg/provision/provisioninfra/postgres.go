package provisioninfra

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/provision"
)

// PostgresRepository implements provision.Repository on the
// provisioned_databases table.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) provision.Repository {
	return &PostgresRepository{db: db}
}

type databasePersistence struct {
	TenantID       string         `db:"tenant_id"`
	ProjectRef     string         `db:"project_ref"`
	DBPasswordCT   string         `db:"db_password_ct"`
	ConnectionHost string         `db:"connection_host"`
	Region         string         `db:"region"`
	InstallStatus  string         `db:"install_status"`
	InstallStep    sql.NullString `db:"install_step"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	UpdatedAt      sql.NullTime   `db:"updated_at"`
}

func toDomain(p databasePersistence) provision.Database {
	d := provision.Database{
		TenantID:       kernel.TenantID(p.TenantID),
		ProjectRef:     p.ProjectRef,
		DBPasswordCT:   p.DBPasswordCT,
		ConnectionHost: p.ConnectionHost,
		Region:         p.Region,
		InstallStatus:  provision.Status(p.InstallStatus),
		CreatedAt:      p.CreatedAt.Time,
		UpdatedAt:      p.UpdatedAt.Time,
	}
	if p.InstallStep.Valid {
		step := provision.Step(p.InstallStep.String)
		d.InstallStep = &step
	}
	if p.ErrorMessage.Valid {
		msg := p.ErrorMessage.String
		d.ErrorMessage = &msg
	}
	return d
}

func (r *PostgresRepository) Insert(ctx context.Context, db provision.Database) error {
	query := `
		INSERT INTO provisioned_databases (
			tenant_id, project_ref, db_password_ct, connection_host, region,
			install_status, install_step, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`

	var step *string
	if db.InstallStep != nil {
		s := string(*db.InstallStep)
		step = &s
	}
	_, err := r.db.ExecContext(ctx, query,
		db.TenantID.String(), db.ProjectRef, db.DBPasswordCT,
		db.ConnectionHost, db.Region, string(db.InstallStatus), step)
	if err != nil {
		return errx.Wrap(err, "failed to insert provisioned database", errx.TypeInternal).
			WithDetail("tenant_id", db.TenantID.Redacted())
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenant kernel.TenantID) (*provision.Database, error) {
	var p databasePersistence
	query := `SELECT * FROM provisioned_databases WHERE tenant_id = $1`
	if err := r.db.GetContext(ctx, &p, query, tenant.String()); err != nil {
		if err == sql.ErrNoRows {
			return nil, provision.ErrNotProvisioned()
		}
		return nil, errx.Wrap(err, "failed to load provisioned database", errx.TypeInternal)
	}
	d := toDomain(p)
	return &d, nil
}

func (r *PostgresRepository) UpdateState(ctx context.Context, tenant kernel.TenantID, status provision.Status, step provision.Step, errMsg *string) error {
	query := `
		UPDATE provisioned_databases SET
			install_status = $2,
			install_step   = $3,
			error_message  = $4,
			updated_at     = now()
		WHERE tenant_id = $1`

	result, err := r.db.ExecContext(ctx, query, tenant.String(), string(status), string(step), errMsg)
	if err != nil {
		return errx.Wrap(err, "failed to update provisioning state", errx.TypeInternal).
			WithDetail("tenant_id", tenant.Redacted())
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on state update", errx.TypeInternal)
	}
	if rows == 0 {
		return provision.ErrNotProvisioned()
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenant kernel.TenantID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM provisioned_databases WHERE tenant_id = $1`, tenant.String()); err != nil {
		return errx.Wrap(err, "failed to delete provisioned database", errx.TypeInternal)
	}
	return nil
}
