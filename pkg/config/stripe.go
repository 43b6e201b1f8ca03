package config

import (
	"time"

	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// StripeConfig carries the per-mode app credentials and the signing secrets
// for dashboard request verification.
type StripeConfig struct {
	APIBase         string
	MarketplaceBase string

	SecretKeyTest string
	SecretKeyLive string
	ClientIDTest  string
	ClientIDLive  string

	// SigningSecrets is ordered newest-first; every entry is tried during
	// verification so secrets can rotate without downtime.
	SigningSecrets     []string
	SignatureTolerance time.Duration
}

func loadStripeConfig() StripeConfig {
	return StripeConfig{
		APIBase:            getEnv("STRIPE_API_BASE", "https://api.stripe.com"),
		MarketplaceBase:    getEnv("STRIPE_MARKETPLACE_BASE", "https://marketplace.stripe.com"),
		SecretKeyTest:      getEnv("STRIPE_SECRET_KEY_TEST", ""),
		SecretKeyLive:      getEnv("STRIPE_SECRET_KEY_LIVE", ""),
		ClientIDTest:       getEnv("STRIPE_APP_CLIENT_ID_TEST", ""),
		ClientIDLive:       getEnv("STRIPE_APP_CLIENT_ID_LIVE", ""),
		SigningSecrets:     getEnvStringSlice("STRIPE_APP_SIGNING_SECRET", nil),
		SignatureTolerance: getEnvDuration("STRIPE_SIGNATURE_TOLERANCE", 5*time.Minute),
	}
}

// SecretKey returns the app secret for the given mode, fatal if unset.
func (s StripeConfig) SecretKey(mode kernel.Mode) string {
	key := s.SecretKeyTest
	if mode == kernel.ModeLive {
		key = s.SecretKeyLive
	}
	if key == "" {
		logx.Fatalf("config: STRIPE_SECRET_KEY_%s is not set", upper(mode))
	}
	return key
}

// ClientID returns the app client id for the given mode, fatal if unset.
func (s StripeConfig) ClientID(mode kernel.Mode) string {
	id := s.ClientIDTest
	if mode == kernel.ModeLive {
		id = s.ClientIDLive
	}
	if id == "" {
		logx.Fatalf("config: STRIPE_APP_CLIENT_ID_%s is not set", upper(mode))
	}
	return id
}

func upper(mode kernel.Mode) string {
	if mode == kernel.ModeLive {
		return "LIVE"
	}
	return "TEST"
}
