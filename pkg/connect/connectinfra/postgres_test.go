package connectinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/relaydata/stripebridge/pkg/connect"
	"github.com/relaydata/stripebridge/pkg/connect/connectinfra"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

func newMockStore(t *testing.T) (connect.Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return connectinfra.NewPostgresStore(db), mock
}

func TestUpdateRotatedTokensIsOneStatement(t *testing.T) {
	store, mock := newMockStore(t)
	expiresAt := time.Now().Add(time.Hour)

	mock.ExpectExec(`UPDATE oauth_connections SET`).
		WithArgs("acct_123", false, "access-ct", expiresAt, "refresh-ct").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateRotatedTokens(context.Background(), kernel.TenantID("acct_123"), false, "access-ct", expiresAt, "refresh-ct")
	if err != nil {
		t.Fatalf("UpdateRotatedTokens: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateRotatedTokensMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE oauth_connections SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateRotatedTokens(context.Background(), kernel.TenantID("acct_gone"), true, "a", time.Now(), "r")
	if !errx.IsCode(err, connect.CodeNotConnected) {
		t.Fatalf("got %v, want NOT_CONNECTED", err)
	}
}

func TestGetConnectionNotConnected(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM oauth_connections`).
		WithArgs("acct_404", false).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	_, err := store.GetConnection(context.Background(), kernel.TenantID("acct_404"), false)
	if !errx.IsCode(err, connect.CodeNotConnected) {
		t.Fatalf("got %v, want NOT_CONNECTED", err)
	}
}

func TestConsumeStateDeletesAsItReads(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	expiresAt := now.Add(5 * time.Minute)

	mock.ExpectQuery(`DELETE FROM oauth_states`).
		WithArgs("hash-1", now).
		WillReturnRows(sqlmock.NewRows([]string{"state_hash", "mode", "expires_at", "created_at"}).
			AddRow("hash-1", "test", expiresAt, now.Add(-time.Minute)))

	state, err := store.ConsumeState(context.Background(), "hash-1", now)
	if err != nil {
		t.Fatalf("ConsumeState: %v", err)
	}
	if state.Mode != kernel.ModeTest {
		t.Fatalf("mode = %q, want test", state.Mode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeStateMissOrExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`DELETE FROM oauth_states`).
		WillReturnRows(sqlmock.NewRows([]string{"state_hash", "mode", "expires_at", "created_at"}))

	_, err := store.ConsumeState(context.Background(), "hash-replayed", time.Now())
	if !errx.IsCode(err, connect.CodeInvalidState) {
		t.Fatalf("got %v, want INVALID_STATE", err)
	}
}

func TestUpsertConnectionResetsRotatedAt(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO oauth_connections(?s).*ON CONFLICT \(tenant_id, livemode\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpsertConnection(context.Background(), connect.Connection{
		TenantID:             kernel.TenantID("acct_123"),
		Livemode:             true,
		Scope:                "read_only",
		AccessTokenCT:        "act",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
		RefreshTokenCT:       "rct",
	})
	if err != nil {
		t.Fatalf("UpsertConnection: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListExpiringOrdersByExpiry(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(35 * time.Minute)
	cols := []string{
		"tenant_id", "livemode", "scope", "publishable_key",
		"access_token_ct", "access_token_expires_at",
		"refresh_token_ct", "refresh_token_rotated_at",
		"created_at", "updated_at",
	}
	now := time.Now()

	mock.ExpectQuery(`SELECT \* FROM oauth_connections(?s).*access_token_expires_at <= \$1(?s).*LIMIT \$2`).
		WithArgs(cutoff, 200).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("acct_a", false, "", nil, "ct1", now.Add(5*time.Minute), "rt1", now, now, now).
			AddRow("acct_b", true, "", nil, "ct2", now.Add(20*time.Minute), "rt2", now, now, now))

	conns, err := store.ListExpiring(context.Background(), cutoff, 200)
	if err != nil {
		t.Fatalf("ListExpiring: %v", err)
	}
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}
	if conns[0].TenantID != "acct_a" || conns[1].Livemode != true {
		t.Fatalf("rows not mapped in order: %+v", conns)
	}
}
