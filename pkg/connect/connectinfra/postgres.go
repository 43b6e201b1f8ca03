package connectinfra

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

// PostgresStore implements connect.Store on the oauth_connections and
// oauth_states tables.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) connect.Store {
	return &PostgresStore{db: db}
}

type connectionPersistence struct {
	TenantID              string         `db:"tenant_id"`
	Livemode              bool           `db:"livemode"`
	Scope                 string         `db:"scope"`
	PublishableKey        sql.NullString `db:"publishable_key"`
	AccessTokenCT         string         `db:"access_token_ct"`
	AccessTokenExpiresAt  time.Time      `db:"access_token_expires_at"`
	RefreshTokenCT        string         `db:"refresh_token_ct"`
	RefreshTokenRotatedAt time.Time      `db:"refresh_token_rotated_at"`
	CreatedAt             time.Time      `db:"created_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func toDomain(p connectionPersistence) connect.Connection {
	c := connect.Connection{
		TenantID:              kernel.TenantID(p.TenantID),
		Livemode:              p.Livemode,
		Scope:                 p.Scope,
		AccessTokenCT:         p.AccessTokenCT,
		AccessTokenExpiresAt:  p.AccessTokenExpiresAt,
		RefreshTokenCT:        p.RefreshTokenCT,
		RefreshTokenRotatedAt: p.RefreshTokenRotatedAt,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
	if p.PublishableKey.Valid {
		pk := p.PublishableKey.String
		c.PublishableKey = &pk
	}
	return c
}

func toPersistence(c connect.Connection) connectionPersistence {
	p := connectionPersistence{
		TenantID:              c.TenantID.String(),
		Livemode:              c.Livemode,
		Scope:                 c.Scope,
		AccessTokenCT:         c.AccessTokenCT,
		AccessTokenExpiresAt:  c.AccessTokenExpiresAt,
		RefreshTokenCT:        c.RefreshTokenCT,
		RefreshTokenRotatedAt: c.RefreshTokenRotatedAt,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
	if c.PublishableKey != nil {
		p.PublishableKey = sql.NullString{String: *c.PublishableKey, Valid: true}
	}
	return p
}

// UpsertConnection replaces the whole token pair for (tenant, livemode). A
// re-install overwrites any previous connection in the same mode.
func (s *PostgresStore) UpsertConnection(ctx context.Context, conn connect.Connection) error {
	query := `
		INSERT INTO oauth_connections (
			tenant_id, livemode, scope, publishable_key,
			access_token_ct, access_token_expires_at,
			refresh_token_ct, refresh_token_rotated_at,
			created_at, updated_at
		) VALUES (
			:tenant_id, :livemode, :scope, :publishable_key,
			:access_token_ct, :access_token_expires_at,
			:refresh_token_ct, now(),
			now(), now()
		)
		ON CONFLICT (tenant_id, livemode) DO UPDATE SET
			scope                    = EXCLUDED.scope,
			publishable_key          = EXCLUDED.publishable_key,
			access_token_ct          = EXCLUDED.access_token_ct,
			access_token_expires_at  = EXCLUDED.access_token_expires_at,
			refresh_token_ct         = EXCLUDED.refresh_token_ct,
			refresh_token_rotated_at = now(),
			updated_at               = now()`

	if _, err := s.db.NamedExecContext(ctx, query, toPersistence(conn)); err != nil {
		return errx.Wrap(err, "failed to upsert connection", errx.TypeInternal).
			WithDetail("tenant_id", conn.TenantID.Redacted())
	}
	return nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, tenant kernel.TenantID, livemode bool) (*connect.Connection, error) {
	var p connectionPersistence
	query := `SELECT * FROM oauth_connections WHERE tenant_id = $1 AND livemode = $2`
	if err := s.db.GetContext(ctx, &p, query, tenant.String(), livemode); err != nil {
		if err == sql.ErrNoRows {
			return nil, connect.ErrNotConnected()
		}
		return nil, errx.Wrap(err, "failed to load connection", errx.TypeInternal)
	}
	c := toDomain(p)
	return &c, nil
}

// UpdateRotatedTokens persists a refresh rotation in a single statement so a
// crash can never leave the new access token observable without the new
// refresh token.
func (s *PostgresStore) UpdateRotatedTokens(ctx context.Context, tenant kernel.TenantID, livemode bool, accessCT string, expiresAt time.Time, refreshCT string) error {
	query := `
		UPDATE oauth_connections SET
			access_token_ct          = $3,
			access_token_expires_at  = $4,
			refresh_token_ct         = $5,
			refresh_token_rotated_at = now(),
			updated_at               = now()
		WHERE tenant_id = $1 AND livemode = $2`

	result, err := s.db.ExecContext(ctx, query, tenant.String(), livemode, accessCT, expiresAt, refreshCT)
	if err != nil {
		return errx.Wrap(err, "failed to persist rotated tokens", errx.TypeInternal).
			WithDetail("tenant_id", tenant.Redacted())
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected on rotation", errx.TypeInternal)
	}
	if rows == 0 {
		return connect.ErrNotConnected()
	}
	return nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, tenant kernel.TenantID) ([]*connect.Connection, error) {
	var rows []connectionPersistence
	query := `SELECT * FROM oauth_connections WHERE tenant_id = $1 ORDER BY livemode`
	if err := s.db.SelectContext(ctx, &rows, query, tenant.String()); err != nil {
		return nil, errx.Wrap(err, "failed to list connections", errx.TypeInternal)
	}
	out := make([]*connect.Connection, 0, len(rows))
	for _, p := range rows {
		c := toDomain(p)
		out = append(out, &c)
	}
	return out, nil
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, tenant kernel.TenantID, livemode bool) error {
	query := `DELETE FROM oauth_connections WHERE tenant_id = $1 AND livemode = $2`
	if _, err := s.db.ExecContext(ctx, query, tenant.String(), livemode); err != nil {
		return errx.Wrap(err, "failed to delete connection", errx.TypeInternal)
	}
	return nil
}

func (s *PostgresStore) ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*connect.Connection, error) {
	var rows []connectionPersistence
	query := `
		SELECT * FROM oauth_connections
		WHERE access_token_expires_at <= $1
		ORDER BY access_token_expires_at ASC
		LIMIT $2`
	if err := s.db.SelectContext(ctx, &rows, query, cutoff, limit); err != nil {
		return nil, errx.Wrap(err, "failed to list expiring connections", errx.TypeInternal)
	}
	out := make([]*connect.Connection, 0, len(rows))
	for _, p := range rows {
		c := toDomain(p)
		out = append(out, &c)
	}
	return out, nil
}

func (s *PostgresStore) ListAll(ctx context.Context, limit int) ([]*connect.Connection, error) {
	var rows []connectionPersistence
	query := `SELECT * FROM oauth_connections ORDER BY access_token_expires_at ASC LIMIT $1`
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, errx.Wrap(err, "failed to list connections", errx.TypeInternal)
	}
	out := make([]*connect.Connection, 0, len(rows))
	for _, p := range rows {
		c := toDomain(p)
		out = append(out, &c)
	}
	return out, nil
}

func (s *PostgresStore) CreateState(ctx context.Context, state connect.OAuthState) error {
	query := `
		INSERT INTO oauth_states (state_hash, mode, expires_at, created_at)
		VALUES ($1, $2, $3, now())`
	if _, err := s.db.ExecContext(ctx, query, state.StateHash, state.Mode.String(), state.ExpiresAt); err != nil {
		return errx.Wrap(err, "failed to create oauth state", errx.TypeInternal)
	}
	return nil
}

// ConsumeState deletes the row as it reads it. The DELETE ... RETURNING makes
// first-wins the database's problem: a second consumer matches zero rows.
func (s *PostgresStore) ConsumeState(ctx context.Context, stateHash string, now time.Time) (*connect.OAuthState, error) {
	var p struct {
		StateHash string    `db:"state_hash"`
		Mode      string    `db:"mode"`
		ExpiresAt time.Time `db:"expires_at"`
		CreatedAt time.Time `db:"created_at"`
	}
	query := `
		DELETE FROM oauth_states
		WHERE state_hash = $1 AND expires_at > $2
		RETURNING state_hash, mode, expires_at, created_at`
	if err := s.db.GetContext(ctx, &p, query, stateHash, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, connect.ErrInvalidState()
		}
		return nil, errx.Wrap(err, "failed to consume oauth state", errx.TypeInternal)
	}
	return &connect.OAuthState{
		StateHash: p.StateHash,
		Mode:      kernel.ParseMode(p.Mode),
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
	}, nil
}

func (s *PostgresStore) DeleteExpiredStates(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired oauth states", errx.TypeInternal)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to get rows affected on state gc", errx.TypeInternal)
	}
	return rows, nil
}
