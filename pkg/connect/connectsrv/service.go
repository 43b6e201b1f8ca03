// Package connectsrv wires the OAuth install/callback flow and the
// just-in-time token source on top of the connect ports.
package connectsrv

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// AppIdentity supplies the public per-mode client id for the authorize URL.
// Satisfied by config.StripeConfig.
type AppIdentity interface {
	ClientID(mode kernel.Mode) string
}

type Service struct {
	store           connect.Store
	tokens          connect.TokenClient
	cipher          *cryptox.Cipher
	app             AppIdentity
	marketplaceBase string
	callbackURL     string
	now             func() time.Time
}

func NewService(store connect.Store, tokens connect.TokenClient, cipher *cryptox.Cipher, app AppIdentity, marketplaceBase, baseURL string) *Service {
	return &Service{
		store:           store,
		tokens:          tokens,
		cipher:          cipher,
		app:             app,
		marketplaceBase: strings.TrimRight(marketplaceBase, "/"),
		callbackURL:     strings.TrimRight(baseURL, "/") + "/oauth/callback",
		now:             time.Now,
	}
}

// InstallURL issues a fresh single-use state and returns the authorize URL
// the browser should be redirected to. Only the digest of the nonce is
// stored; the raw value exists in the returned URL and nowhere else.
func (s *Service) InstallURL(ctx context.Context, mode kernel.Mode) (string, error) {
	nonce, err := cryptox.RandomToken(32)
	if err != nil {
		return "", errx.Wrap(err, "failed to generate install state", errx.TypeInternal)
	}

	now := s.now()
	if err := s.store.CreateState(ctx, connect.OAuthState{
		StateHash: cryptox.Digest(nonce),
		Mode:      mode,
		ExpiresAt: now.Add(connect.StateTTL),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", s.app.ClientID(mode))
	q.Set("redirect_uri", s.callbackURL)
	q.Set("state", nonce)

	logx.WithField("mode", mode.String()).Info("install state issued")
	return s.marketplaceBase + "/oauth/v2/authorize?" + q.Encode(), nil
}

// HandleCallback exchanges the authorization code and stores the encrypted
// token pair. With a state parameter the stored mode is authoritative;
// without one (platform-initiated handoff) the mode is guessed from the
// account hint and validated by the exchange itself.
func (s *Service) HandleCallback(ctx context.Context, code, state, accountHint string) (*connect.Connection, error) {
	if code == "" {
		return nil, connect.ErrInvalidState().WithDetail("reason", "missing code")
	}

	var mode kernel.Mode
	if state != "" {
		consumed, err := s.store.ConsumeState(ctx, cryptox.Digest(state), s.now())
		if err != nil {
			return nil, err
		}
		mode = consumed.Mode
	} else {
		mode = modeFromHint(accountHint)
	}

	grant, err := s.tokens.ExchangeCode(ctx, code, mode)
	if err != nil {
		return nil, err
	}
	return s.saveGrant(ctx, grant)
}

// saveGrant encrypts both tokens and upserts the connection keyed by what the
// platform reported, not by what the caller claimed.
func (s *Service) saveGrant(ctx context.Context, grant *connect.TokenGrant) (*connect.Connection, error) {
	accessCT, err := s.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return nil, errx.Wrap(err, "failed to encrypt access token", errx.TypeInternal)
	}
	refreshCT, err := s.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return nil, errx.Wrap(err, "failed to encrypt refresh token", errx.TypeInternal)
	}

	now := s.now()
	conn := connect.Connection{
		TenantID:             kernel.TenantID(grant.StripeUserID),
		Livemode:             grant.Livemode,
		Scope:                grant.Scope,
		AccessTokenCT:        accessCT,
		AccessTokenExpiresAt: grant.ExpiresAt(now),
		RefreshTokenCT:       refreshCT,
	}
	if grant.PublishableKey != "" {
		pk := grant.PublishableKey
		conn.PublishableKey = &pk
	}

	if err := s.store.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}

	logx.WithFields(logx.Fields{
		"tenant":   conn.TenantID.Redacted(),
		"livemode": conn.Livemode,
	}).Info("connection established")
	return &conn, nil
}

// modeFromHint guesses test mode when the platform's account hint mentions
// test; anything else is treated as live. The subsequent exchange fails fast
// when the guess is wrong.
func modeFromHint(hint string) kernel.Mode {
	if strings.Contains(strings.ToLower(hint), "test") {
		return kernel.ModeTest
	}
	return kernel.ModeLive
}
