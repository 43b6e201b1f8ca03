// Package sweeper proactively refreshes access tokens that are close to
// expiry so interactive requests rarely pay the refresh round-trip. It shares
// the vault's envelope format and rotation rules with the online backend.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaydata/stripebridge/pkg/asyncx"
	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// runLockKey guards against overlapping sweeps across replicas.
const runLockKey = "sweeper:run"

// runLockTTL caps how long a crashed sweep can block the next one.
const runLockTTL = 30 * time.Minute

// ErrSweepInProgress is returned when another replica holds the run lock.
var ErrSweepInProgress = errx.Conflict("a sweep is already running")

type Options struct {
	// DryRun logs intended refreshes without calling upstream or writing.
	DryRun bool

	// ForceAll sweeps every connection regardless of expiry.
	ForceAll bool
}

// Failure identifies one failed refresh without exposing the tenant id.
type Failure struct {
	Tenant   string `json:"tenant"`
	Livemode bool   `json:"livemode"`
	Kind     string `json:"kind"`
}

type Summary struct {
	Total         int       `json:"total"`
	Refreshed     int       `json:"refreshed"`
	Failed        int       `json:"failed"`
	Skipped       int       `json:"skipped"`
	Failures      []Failure `json:"failures,omitempty"`
	StatesDeleted int64     `json:"states_deleted"`
}

type Settings struct {
	BatchLimit   int
	Concurrency  int
	ExpiryWindow time.Duration
}

type Sweeper struct {
	store    connect.Store
	tokens   connect.TokenClient
	cipher   *cryptox.Cipher
	redis    *redis.Client // nil disables the run lock
	settings Settings
	now      func() time.Time
}

// New builds a sweeper. Pass a nil redis client to run lockless (single
// instance deployments).
func New(store connect.Store, tokens connect.TokenClient, cipher *cryptox.Cipher, redisClient *redis.Client, settings Settings) *Sweeper {
	if settings.BatchLimit <= 0 {
		settings.BatchLimit = 200
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 5
	}
	if settings.ExpiryWindow <= 0 {
		settings.ExpiryWindow = 35 * time.Minute
	}
	return &Sweeper{
		store:    store,
		tokens:   tokens,
		cipher:   cipher,
		redis:    redisClient,
		settings: settings,
		now:      time.Now,
	}
}

// Run performs one sweep and reports what happened.
func (s *Sweeper) Run(ctx context.Context, opts Options) (*Summary, error) {
	if s.redis != nil {
		acquired, err := s.redis.SetNX(ctx, runLockKey, s.now().Format(time.RFC3339), runLockTTL).Result()
		if err != nil {
			return nil, errx.Wrap(err, "failed to acquire sweep run lock", errx.TypeInternal)
		}
		if !acquired {
			return nil, ErrSweepInProgress
		}
		defer s.redis.Del(context.WithoutCancel(ctx), runLockKey)
	}

	now := s.now()
	conns, err := s.selectBatch(ctx, opts, now)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(conns)}

	if opts.DryRun {
		for _, conn := range conns {
			logx.WithFields(logx.Fields{
				"tenant":     conn.TenantID.Redacted(),
				"livemode":   conn.Livemode,
				"expires_in": conn.AccessTokenExpiresAt.Sub(now).Round(time.Second).String(),
			}).Info("dry run: would refresh")
			summary.Skipped++
		}
		return summary, nil
	}

	results := asyncx.PoolSettled(ctx, s.settings.Concurrency, conns,
		func(ctx context.Context, conn *connect.Connection) (struct{}, error) {
			return struct{}{}, s.refreshOne(ctx, conn, now)
		})

	for i, res := range results {
		if res.OK() {
			summary.Refreshed++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{
			Tenant:   conns[i].TenantID.Redacted(),
			Livemode: conns[i].Livemode,
			Kind:     failureKind(res.Err),
		})
	}

	if deleted, err := s.store.DeleteExpiredStates(ctx, now); err != nil {
		logx.WithError(err).Warn("expired state gc failed")
	} else {
		summary.StatesDeleted = deleted
	}

	logx.WithFields(logx.Fields{
		"total":     summary.Total,
		"refreshed": summary.Refreshed,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
	}).Info("sweep finished")
	return summary, nil
}

func (s *Sweeper) selectBatch(ctx context.Context, opts Options, now time.Time) ([]*connect.Connection, error) {
	if opts.ForceAll {
		return s.store.ListAll(ctx, s.settings.BatchLimit)
	}
	return s.store.ListExpiring(ctx, now.Add(s.settings.ExpiryWindow), s.settings.BatchLimit)
}

// refreshOne mirrors the online JIT path: decrypt, refresh, encrypt, persist
// the rotated pair in one write. Failures leave the row untouched.
func (s *Sweeper) refreshOne(ctx context.Context, conn *connect.Connection, now time.Time) error {
	refreshPlain, err := s.cipher.Decrypt(conn.RefreshTokenCT)
	if err != nil {
		return err
	}

	grant, err := s.tokens.Refresh(ctx, string(refreshPlain), conn.Mode())
	if err != nil {
		return err
	}

	accessCT, err := s.cipher.Encrypt([]byte(grant.AccessToken))
	if err != nil {
		return err
	}
	refreshCT, err := s.cipher.Encrypt([]byte(grant.RefreshToken))
	if err != nil {
		return err
	}

	return s.store.UpdateRotatedTokens(ctx, conn.TenantID, conn.Livemode, accessCT, grant.ExpiresAt(now), refreshCT)
}

// failureKind reduces an error to a stable label fit for the summary. Never
// includes upstream messages, which may carry sensitive material.
func failureKind(err error) string {
	var ex *errx.Error
	if errx.As(err, &ex) && ex.Code != "" {
		return ex.Code
	}
	if errors.Is(err, cryptox.ErrCorrupt) {
		return "CORRUPT_CIPHERTEXT"
	}
	return "INTERNAL"
}
