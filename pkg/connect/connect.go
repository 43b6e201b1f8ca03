// Package connect is the OAuth connection bounded context: CSRF state
// issuance and consumption, the code-for-token exchange, the encrypted token
// vault, and just-in-time refresh with rotation.
package connect

import (
	"net/http"
	"time"

	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

// StateTTL is how long an issued install state stays consumable.
const StateTTL = 10 * time.Minute

// RefreshSkew is the window before expiry inside which an access token is
// considered stale and refreshed instead of handed out.
const RefreshSkew = 5 * time.Minute

// OAuthState is a single-use CSRF state record. Only the SHA-256 digest of
// the raw nonce is ever stored; the raw value travels to Stripe and back.
type OAuthState struct {
	StateHash string      `db:"state_hash"`
	Mode      kernel.Mode `db:"mode"`
	ExpiresAt time.Time   `db:"expires_at"`
	CreatedAt time.Time   `db:"created_at"`
}

// Connection holds the encrypted token pair for one (tenant, livemode).
type Connection struct {
	TenantID              kernel.TenantID `db:"tenant_id"`
	Livemode              bool            `db:"livemode"`
	Scope                 string          `db:"scope"`
	PublishableKey        *string         `db:"publishable_key"`
	AccessTokenCT         string          `db:"access_token_ct"`
	AccessTokenExpiresAt  time.Time       `db:"access_token_expires_at"`
	RefreshTokenCT        string          `db:"refresh_token_ct"`
	RefreshTokenRotatedAt time.Time       `db:"refresh_token_rotated_at"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

// Mode returns the connection's mode derived from the livemode flag.
func (c *Connection) Mode() kernel.Mode { return kernel.ModeFromLivemode(c.Livemode) }

// NeedsRefresh reports whether the access token is within the skew window of
// its expiry (or already expired) at the given instant.
func (c *Connection) NeedsRefresh(now time.Time) bool {
	return !c.AccessTokenExpiresAt.After(now.Add(RefreshSkew))
}

// TokenGrant is the decoded success envelope from Stripe's token endpoint.
type TokenGrant struct {
	AccessToken    string
	RefreshToken   string
	TokenType      string
	Scope          string
	Livemode       bool
	StripeUserID   string
	PublishableKey string
	ExpiresIn      int64
}

// ExpiresAt computes the absolute expiry, defaulting to one hour when the
// endpoint omitted expires_in.
func (g *TokenGrant) ExpiresAt(now time.Time) time.Time {
	secs := g.ExpiresIn
	if secs <= 0 {
		secs = 3600
	}
	return now.Add(time.Duration(secs) * time.Second)
}

// ---------------------------------------------------------------------------
// Error registry
// ---------------------------------------------------------------------------

var ErrRegistry = errx.NewRegistry("CONNECT")

var (
	CodeNotConnected = ErrRegistry.Register("NOT_CONNECTED", errx.TypeAuthorization, http.StatusUnauthorized,
		"No Stripe connection exists for this account")
	CodeModeMismatch = ErrRegistry.Register("MODE_MISMATCH", errx.TypeAuthorization, http.StatusUnauthorized,
		"Account is connected, but not in the requested mode")
	CodeInvalidState = ErrRegistry.Register("INVALID_STATE", errx.TypeAuthorization, http.StatusForbidden,
		"Install state is invalid, expired, or already used")
	CodeRefreshFailed = ErrRegistry.Register("REFRESH_FAILED", errx.TypeExternal, http.StatusBadGateway,
		"Failed to refresh the Stripe access token")
	CodeUpstreamAuth = ErrRegistry.Register("UPSTREAM_AUTH", errx.TypeExternal, http.StatusBadGateway,
		"Stripe rejected the app credentials")
	CodeUpstreamTransient = ErrRegistry.Register("UPSTREAM_TRANSIENT", errx.TypeExternal, http.StatusBadGateway,
		"Stripe token endpoint is temporarily unavailable")
	CodeUpstreamMalformed = ErrRegistry.Register("UPSTREAM_MALFORMED", errx.TypeExternal, http.StatusBadGateway,
		"Stripe token endpoint returned an unusable response")
)

func ErrNotConnected() *errx.Error      { return ErrRegistry.New(CodeNotConnected) }
func ErrModeMismatch() *errx.Error      { return ErrRegistry.New(CodeModeMismatch) }
func ErrInvalidState() *errx.Error      { return ErrRegistry.New(CodeInvalidState) }
func ErrRefreshFailed() *errx.Error     { return ErrRegistry.New(CodeRefreshFailed) }
func ErrUpstreamAuth() *errx.Error      { return ErrRegistry.New(CodeUpstreamAuth) }
func ErrUpstreamTransient() *errx.Error { return ErrRegistry.New(CodeUpstreamTransient) }
func ErrUpstreamMalformed() *errx.Error { return ErrRegistry.New(CodeUpstreamMalformed) }
