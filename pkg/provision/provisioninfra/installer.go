package provisioninfra

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/relaydata/stripebridge/pkg/asyncx"
	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/provision"
)

// StripeSyncInstaller implements provision.Installer. It registers the sync
// webhook endpoint on the connected account, pinned to an explicit API
// version so payload shapes stay stable regardless of the account's default.
type StripeSyncInstaller struct {
	httpClient    *http.Client
	apiBase       string
	webhookURL    string
	apiVersion    string
	enabledEvents []string
	attempts      int
	initialDelay  time.Duration
}

type InstallerOption func(*StripeSyncInstaller)

// WithAPIVersion pins the webhook's Stripe API version.
func WithAPIVersion(v string) InstallerOption {
	return func(i *StripeSyncInstaller) { i.apiVersion = v }
}

func WithInstallerHTTPClient(c *http.Client) InstallerOption {
	return func(i *StripeSyncInstaller) { i.httpClient = c }
}

// WithInstallerBackoff overrides the internal retry budget. Attempts stay
// bounded; the state machine relies on Install returning promptly.
func WithInstallerBackoff(attempts int, initialDelay time.Duration) InstallerOption {
	return func(i *StripeSyncInstaller) {
		i.attempts = attempts
		i.initialDelay = initialDelay
	}
}

func NewStripeSyncInstaller(apiBase, webhookURL string, opts ...InstallerOption) provision.Installer {
	i := &StripeSyncInstaller{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    strings.TrimRight(apiBase, "/"),
		webhookURL: webhookURL,
		apiVersion: "2023-10-16",
		enabledEvents: []string{
			"customer.created", "customer.updated", "customer.deleted",
			"invoice.created", "invoice.updated", "invoice.finalized",
			"charge.succeeded", "charge.refunded",
			"payment_intent.succeeded", "payment_intent.payment_failed",
			"subscription_schedule.created", "subscription_schedule.updated",
		},
		attempts:     3,
		initialDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install creates the webhook endpoint using the tenant's access token.
// Transient upstream failures retry internally with doubling delay (5s, 10s)
// but the attempt budget is fixed, so one FSM tick stays bounded. A 4xx from
// the platform is not retried: the request will not get better on its own.
func (i *StripeSyncInstaller) Install(ctx context.Context, accessToken string) error {
	_, err := asyncx.RetryWithBackoff(ctx, i.attempts, i.initialDelay, func(ctx context.Context) (struct{}, error) {
		err := i.createWebhookEndpoint(ctx, accessToken)
		if err != nil && !retriable(err) {
			return struct{}{}, asyncx.Permanent(err)
		}
		return struct{}{}, err
	})
	return err
}

func retriable(err error) bool {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status >= 500
	}
	return true
}

func (i *StripeSyncInstaller) createWebhookEndpoint(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("url", i.webhookURL)
	form.Set("api_version", i.apiVersion)
	for _, event := range i.enabledEvents {
		form.Add("enabled_events[]", event)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.apiBase+"/v1/webhook_endpoints", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	logx.WithFields(logx.Fields{
		"status":      resp.StatusCode,
		"api_version": i.apiVersion,
	}).Debug("sync webhook install attempt")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
