package connectinfra

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// Credentials supplies the per-mode app secret used as the Basic auth
// username on the token endpoint. Satisfied by config.StripeConfig.
type Credentials interface {
	SecretKey(mode kernel.Mode) string
}

// StripeTokenClient implements connect.TokenClient against Stripe's OAuth
// token endpoint.
type StripeTokenClient struct {
	httpClient *http.Client
	apiBase    string
	creds      Credentials
}

type StripeTokenClientOption func(*StripeTokenClient)

// WithHTTPClient overrides the default 30s-timeout client.
func WithHTTPClient(c *http.Client) StripeTokenClientOption {
	return func(s *StripeTokenClient) { s.httpClient = c }
}

func NewStripeTokenClient(apiBase string, creds Credentials, opts ...StripeTokenClientOption) connect.TokenClient {
	c := &StripeTokenClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimRight(apiBase, "/"),
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *StripeTokenClient) ExchangeCode(ctx context.Context, code string, mode kernel.Mode) (*connect.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.post(ctx, form, mode)
}

func (c *StripeTokenClient) Refresh(ctx context.Context, refreshToken string, mode kernel.Mode) (*connect.TokenGrant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.post(ctx, form, mode)
}

// tokenResponse covers both the success and the error envelope; Stripe never
// mixes the two.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Livemode         bool   `json:"livemode"`
	StripeUserID     string `json:"stripe_user_id"`
	PublishableKey   string `json:"stripe_publishable_key"`
	ExpiresIn        int64  `json:"expires_in"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// post performs the grant request. Request and response bodies hold
// credentials, so only the HTTP status and grant type ever reach the logs.
func (c *StripeTokenClient) post(ctx context.Context, form url.Values, mode kernel.Mode) (*connect.TokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, connect.ErrUpstreamMalformed().WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.creds.SecretKey(mode), "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connect.ErrUpstreamTransient().WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, connect.ErrUpstreamTransient().WithCause(err)
	}

	logx.WithFields(logx.Fields{
		"status":     resp.StatusCode,
		"mode":       mode.String(),
		"grant_type": form.Get("grant_type"),
	}).Debug("stripe token endpoint responded")

	switch {
	case resp.StatusCode >= 500:
		return nil, connect.ErrUpstreamTransient().WithDetail("status", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, connect.ErrUpstreamAuth().WithDetail("status", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, connect.ErrUpstreamMalformed().WithDetail("status", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || tr.ErrorCode != "" {
		return nil, connect.ErrUpstreamMalformed().
			WithDetail("status", resp.StatusCode).
			WithDetail("error", tr.ErrorCode)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" || tr.StripeUserID == "" {
		return nil, connect.ErrUpstreamMalformed().WithDetail("reason", "incomplete grant")
	}

	return &connect.TokenGrant{
		AccessToken:    tr.AccessToken,
		RefreshToken:   tr.RefreshToken,
		TokenType:      tr.TokenType,
		Scope:          tr.Scope,
		Livemode:       tr.Livemode,
		StripeUserID:   tr.StripeUserID,
		PublishableKey: tr.PublishableKey,
		ExpiresIn:      tr.ExpiresIn,
	}, nil
}
