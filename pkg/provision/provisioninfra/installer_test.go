package provisioninfra_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaydata/stripebridge/pkg/provision"
	"github.com/relaydata/stripebridge/pkg/provision/provisioninfra"
)

// newTestInstaller serves /v1/webhook_endpoints with the given status codes
// and returns an installer with a millisecond retry budget.
func newTestInstaller(t *testing.T, status func(attempt int32) int) (provision.Installer, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/webhook_endpoints" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status(atomic.AddInt32(&calls, 1)))
	}))
	t.Cleanup(srv.Close)

	installer := provisioninfra.NewStripeSyncInstaller(srv.URL, "https://app.example.com/webhooks/stripe",
		provisioninfra.WithInstallerBackoff(3, time.Millisecond))
	return installer, &calls
}

func TestInstallRetriesServerErrors(t *testing.T) {
	installer, calls := newTestInstaller(t, func(attempt int32) int {
		if attempt < 3 {
			return http.StatusBadGateway
		}
		return http.StatusOK
	})

	if err := installer.Install(context.Background(), "tok_access"); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if *calls != 3 {
		t.Fatalf("endpoint hit %d times, want 3 (two 502s then success)", *calls)
	}
}

func TestInstallDoesNotRetryClientErrors(t *testing.T) {
	installer, calls := newTestInstaller(t, func(int32) int {
		return http.StatusUnauthorized
	})

	err := installer.Install(context.Background(), "tok_access")
	if err == nil {
		t.Fatal("Install should fail on 401")
	}
	var ue *provisioninfra.UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusUnauthorized {
		t.Fatalf("got %v, want UpstreamError 401", err)
	}
	if *calls != 1 {
		t.Fatalf("endpoint hit %d times, want exactly 1 for a credential rejection", *calls)
	}
}

func TestInstallExhaustsRetriesOnPersistentServerError(t *testing.T) {
	installer, calls := newTestInstaller(t, func(int32) int {
		return http.StatusInternalServerError
	})

	err := installer.Install(context.Background(), "tok_access")
	if err == nil {
		t.Fatal("Install should fail after exhausting retries")
	}
	if *calls != 3 {
		t.Fatalf("endpoint hit %d times, want the full attempt budget", *calls)
	}
}
