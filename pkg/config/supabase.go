package config

import "time"

// SupabaseConfig configures the managed-Postgres control plane client.
type SupabaseConfig struct {
	APIBase        string
	AccessToken    string
	OrganizationID string
	Region         string
	RequestTimeout time.Duration
}

func loadSupabaseConfig() SupabaseConfig {
	return SupabaseConfig{
		APIBase:        getEnv("SUPABASE_API_BASE", "https://api.supabase.com"),
		AccessToken:    getEnv("SUPABASE_ACCESS_TOKEN", ""),
		OrganizationID: getEnv("SUPABASE_ORGANIZATION_ID", ""),
		Region:         getEnv("SUPABASE_REGION", "us-east-1"),
		RequestTimeout: getEnvDuration("SUPABASE_REQUEST_TIMEOUT", 30*time.Second),
	}
}

// ProvisioningConfig tunes the provisioning state machine.
type ProvisioningConfig struct {
	// WaitDBReadyTimeout is the wall-clock budget for the readiness wait
	// before the machine transitions to the terminal error state.
	WaitDBReadyTimeout time.Duration

	// VerifySyncDelay is the minimum dwell time in verify_sync before the
	// machine reports ready.
	VerifySyncDelay time.Duration

	// StripeAPIVersion is pinned on webhooks created by the sync installer.
	StripeAPIVersion string
}

func loadProvisioningConfig() ProvisioningConfig {
	return ProvisioningConfig{
		WaitDBReadyTimeout: getEnvMillis("PROVISIONING_WAIT_DATABASE_READY_TIMEOUT_MS", 10*time.Minute),
		VerifySyncDelay:    getEnvDuration("PROVISIONING_VERIFY_SYNC_DELAY", 3*time.Second),
		StripeAPIVersion:   getEnv("STRIPE_API_VERSION", "2023-10-16"),
	}
}

// SweeperConfig tunes the bulk token refresh job.
type SweeperConfig struct {
	Schedule    string
	BatchLimit  int
	Concurrency int
	// ExpiryWindow selects rows whose access token expires within it.
	ExpiryWindow time.Duration
	DryRun       bool
	ForceAll     bool
}

func loadSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:     getEnv("SWEEPER_SCHEDULE", "@every 30m"),
		BatchLimit:   getEnvInt("SWEEPER_BATCH_LIMIT", 200),
		Concurrency:  getEnvInt("SWEEPER_CONCURRENCY", 5),
		ExpiryWindow: getEnvDuration("SWEEPER_EXPIRY_WINDOW", 35*time.Minute),
		DryRun:       getEnvBool("SWEEPER_DRY_RUN", false),
		ForceAll:     getEnvBool("SWEEPER_FORCE_ALL", false),
	}
}
