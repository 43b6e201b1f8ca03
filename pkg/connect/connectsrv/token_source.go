package connectsrv

import (
	"context"
	"time"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// VaultTokenSource implements connect.TokenSource over the encrypted vault,
// refreshing just in time when the stored access token is stale.
type VaultTokenSource struct {
	store  connect.Store
	tokens connect.TokenClient
	cipher *cryptox.Cipher
	now    func() time.Time
}

func NewVaultTokenSource(store connect.Store, tokens connect.TokenClient, cipher *cryptox.Cipher) *VaultTokenSource {
	return &VaultTokenSource{store: store, tokens: tokens, cipher: cipher, now: time.Now}
}

// FreshAccessToken returns a currently-valid plaintext access token for the
// tenant in the given mode. When a refresh is needed, the rotated pair is
// persisted before the new token is returned: the platform invalidates the
// old refresh token on rotation, so losing the new one strands the tenant.
// On any refresh failure the stored row is left untouched.
func (ts *VaultTokenSource) FreshAccessToken(ctx context.Context, tenant kernel.TenantID, mode kernel.Mode) (string, error) {
	conn, err := ts.store.GetConnection(ctx, tenant, mode.Livemode())
	if err != nil {
		if errx.IsCode(err, connect.CodeNotConnected) {
			return "", ts.classifyMiss(ctx, tenant, err)
		}
		return "", err
	}

	now := ts.now()
	if !conn.NeedsRefresh(now) {
		plain, err := ts.cipher.Decrypt(conn.AccessTokenCT)
		if err != nil {
			return "", connect.ErrRefreshFailed().WithCause(err)
		}
		return string(plain), nil
	}

	refreshPlain, err := ts.cipher.Decrypt(conn.RefreshTokenCT)
	if err != nil {
		return "", connect.ErrRefreshFailed().WithCause(err)
	}

	grant, err := ts.tokens.Refresh(ctx, string(refreshPlain), mode)
	if err != nil {
		logx.WithFields(logx.Fields{
			"tenant":   tenant.Redacted(),
			"livemode": mode.Livemode(),
		}).WithError(err).Warn("token refresh failed")
		return "", connect.ErrRefreshFailed().WithCause(err)
	}

	accessCT, err := ts.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return "", connect.ErrRefreshFailed().WithCause(err)
	}
	refreshCT, err := ts.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return "", connect.ErrRefreshFailed().WithCause(err)
	}

	if err := ts.store.UpdateRotatedTokens(ctx, tenant, mode.Livemode(), accessCT, grant.ExpiresAt(now), refreshCT); err != nil {
		return "", connect.ErrRefreshFailed().WithCause(err)
	}

	logx.WithFields(logx.Fields{
		"tenant":   tenant.Redacted(),
		"livemode": mode.Livemode(),
	}).Info("access token refreshed")
	return grant.AccessToken, nil
}

// classifyMiss upgrades a vault miss to MODE_MISMATCH when the tenant holds a
// connection in the other mode. The two answers carry the same HTTP status,
// but the UI wants to say "switch modes" rather than "install the app".
func (ts *VaultTokenSource) classifyMiss(ctx context.Context, tenant kernel.TenantID, miss error) error {
	others, err := ts.store.ListConnections(ctx, tenant)
	if err != nil || len(others) == 0 {
		return miss
	}
	return connect.ErrModeMismatch()
}
