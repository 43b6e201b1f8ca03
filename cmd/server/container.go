// Composition root for the API server. Owns shared infrastructure (DB,
// cipher, outbound clients) and wires the bounded contexts together. This is
// the only place that knows about all modules.
package main

import (
	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/config"
	"github.com/relaydata/stripebridge/pkg/connect/connectapi"
	"github.com/relaydata/stripebridge/pkg/connect/connectinfra"
	"github.com/relaydata/stripebridge/pkg/connect/connectsrv"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/dashauth"
	"github.com/relaydata/stripebridge/pkg/dbx"
	"github.com/relaydata/stripebridge/pkg/logx"
	"github.com/relaydata/stripebridge/pkg/provision/provisionapi"
	"github.com/relaydata/stripebridge/pkg/provision/provisioninfra"
	"github.com/relaydata/stripebridge/pkg/provision/provisionsrv"
)

type Container struct {
	Config *config.Config

	DB     *sqlx.DB
	Cipher *cryptox.Cipher

	ConnectHandlers   *connectapi.Handlers
	ProvisionHandlers *provisionapi.Handlers
	Verifier          *dashauth.Verifier
}

func NewContainer(cfg *config.Config) *Container {
	c := &Container{Config: cfg}

	cipher, err := cryptox.New(cfg.Crypto.EncryptionKeyHex)
	if err != nil {
		logx.Fatalf("invalid ENCRYPTION_KEY: %v", err)
	}
	c.Cipher = cipher

	db, err := dbx.Connect(cfg.Database)
	if err != nil {
		logx.Fatalf("database unavailable: %v", err)
	}
	c.DB = db

	if err := dbx.Migrate(db); err != nil {
		logx.Fatalf("schema migration failed: %v", err)
	}

	// Connect context: vault store, token endpoint client, install flow.
	store := connectinfra.NewPostgresStore(db)
	tokenClient := connectinfra.NewStripeTokenClient(cfg.Stripe.APIBase, cfg.Stripe)
	connectService := connectsrv.NewService(store, tokenClient, cipher, cfg.Stripe,
		cfg.Stripe.MarketplaceBase, cfg.Server.BaseURL)
	tokenSource := connectsrv.NewVaultTokenSource(store, tokenClient, cipher)
	c.ConnectHandlers = connectapi.NewHandlers(connectService)

	// Provision context: control plane, installer, FSM.
	repo := provisioninfra.NewPostgresRepository(db)
	controlPlane := provisioninfra.NewSupabaseClient(
		cfg.Supabase.APIBase, cfg.Supabase.AccessToken, cfg.Supabase.OrganizationID)
	installer := provisioninfra.NewStripeSyncInstaller(
		cfg.Stripe.APIBase, cfg.Server.BaseURL+"/webhooks/stripe",
		provisioninfra.WithAPIVersion(cfg.Provisioning.StripeAPIVersion))
	provisionService := provisionsrv.NewService(
		dbx.NewAdvisoryLocker(db), repo, controlPlane, installer, tokenSource, cipher,
		provisionsrv.Settings{
			Region:             cfg.Supabase.Region,
			WaitDBReadyTimeout: cfg.Provisioning.WaitDBReadyTimeout,
			VerifySyncDelay:    cfg.Provisioning.VerifySyncDelay,
		})
	c.ProvisionHandlers = provisionapi.NewHandlers(provisionService)

	c.Verifier = dashauth.NewVerifier(cfg.Stripe.SigningSecrets, cfg.Stripe.SignatureTolerance)

	logx.Info("container initialized")
	return c
}

func (c *Container) Cleanup() {
	dbx.Close(c.DB)
	logx.Info("cleanup complete")
}
