package connect

import (
	"context"
	"time"

	"github.com/relaydata/stripebridge/pkg/kernel"
)

// Store is the token vault plus the single-use state table.
type Store interface {
	// UpsertConnection atomically inserts or replaces the row keyed by
	// (tenant, livemode), resetting refresh_token_rotated_at and updated_at.
	UpsertConnection(ctx context.Context, conn Connection) error

	// GetConnection returns ErrNotConnected when no row exists.
	GetConnection(ctx context.Context, tenant kernel.TenantID, livemode bool) (*Connection, error)

	// UpdateRotatedTokens writes both new ciphertexts and the access expiry
	// in one statement. Callers must invoke it before handing the new
	// access token to anyone: the platform has already invalidated the old
	// refresh token.
	UpdateRotatedTokens(ctx context.Context, tenant kernel.TenantID, livemode bool, accessCT string, expiresAt time.Time, refreshCT string) error

	ListConnections(ctx context.Context, tenant kernel.TenantID) ([]*Connection, error)
	DeleteConnection(ctx context.Context, tenant kernel.TenantID, livemode bool) error

	// ListExpiring returns up to limit connections whose access token
	// expires at or before cutoff, oldest expiry first.
	ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]*Connection, error)

	// ListAll returns up to limit connections regardless of expiry.
	ListAll(ctx context.Context, limit int) ([]*Connection, error)

	CreateState(ctx context.Context, state OAuthState) error

	// ConsumeState atomically deletes and returns the unexpired state row,
	// or ErrInvalidState. Two concurrent consumers succeed at most once.
	ConsumeState(ctx context.Context, stateHash string, now time.Time) (*OAuthState, error)

	// DeleteExpiredStates garbage-collects expired rows, returning the count.
	DeleteExpiredStates(ctx context.Context, now time.Time) (int64, error)
}

// TokenClient talks to Stripe's OAuth token endpoint.
type TokenClient interface {
	ExchangeCode(ctx context.Context, code string, mode kernel.Mode) (*TokenGrant, error)
	Refresh(ctx context.Context, refreshToken string, mode kernel.Mode) (*TokenGrant, error)
}

// TokenSource hands out currently-valid plaintext access tokens, refreshing
// with rotation when needed.
type TokenSource interface {
	FreshAccessToken(ctx context.Context, tenant kernel.TenantID, mode kernel.Mode) (string, error)
}
