package cryptox_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/relaydata/stripebridge/pkg/cryptox"
)

const canonicalPayload = `{"user_id":"usr_1","account_id":"acct_1"}`

func signedHeader(payload, secret string, ts int64) string {
	return fmt.Sprintf("t=%d,v1=%s", ts, cryptox.ComputeMAC(payload, ts, secret))
}

func TestVerifyMACHappyPath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signedHeader(canonicalPayload, "whsec_a", now.Unix())

	err := cryptox.VerifyMAC(canonicalPayload, header, []string{"whsec_a"}, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("VerifyMAC: %v", err)
	}
}

func TestVerifyMACSecretRotation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signedHeader(canonicalPayload, "whsec_old", now.Unix())

	// Old secret still in the list: verifies.
	err := cryptox.VerifyMAC(canonicalPayload, header, []string{"whsec_new", "whsec_old"}, 5*time.Minute, now)
	if err != nil {
		t.Fatalf("VerifyMAC with rotated list: %v", err)
	}

	// Old secret removed: same payload now fails.
	err = cryptox.VerifyMAC(canonicalPayload, header, []string{"whsec_new"}, 5*time.Minute, now)
	if err != cryptox.ErrSignatureMismatch {
		t.Fatalf("VerifyMAC after removal: got %v, want ErrSignatureMismatch", err)
	}
}

func TestVerifyMACTolerance(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	stale := signedHeader(canonicalPayload, "whsec_a", now.Add(-6*time.Minute).Unix())
	if err := cryptox.VerifyMAC(canonicalPayload, stale, []string{"whsec_a"}, 5*time.Minute, now); err != cryptox.ErrSignatureExpired {
		t.Fatalf("stale header: got %v, want ErrSignatureExpired", err)
	}

	future := signedHeader(canonicalPayload, "whsec_a", now.Add(6*time.Minute).Unix())
	if err := cryptox.VerifyMAC(canonicalPayload, future, []string{"whsec_a"}, 5*time.Minute, now); err != cryptox.ErrSignatureExpired {
		t.Fatalf("future header: got %v, want ErrSignatureExpired", err)
	}

	edge := signedHeader(canonicalPayload, "whsec_a", now.Add(-5*time.Minute).Unix())
	if err := cryptox.VerifyMAC(canonicalPayload, edge, []string{"whsec_a"}, 5*time.Minute, now); err != nil {
		t.Fatalf("edge-of-window header: %v", err)
	}
}

func TestVerifyMACMalformedHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, header := range []string{
		"",
		"v1=abc",
		"t=notanumber,v1=abc",
		fmt.Sprintf("t=%d", now.Unix()),
		"garbage",
	} {
		err := cryptox.VerifyMAC(canonicalPayload, header, []string{"whsec_a"}, 5*time.Minute, now)
		if err != cryptox.ErrSignatureMalformed {
			t.Fatalf("VerifyMAC(%q): got %v, want ErrSignatureMalformed", header, err)
		}
	}
}

func TestVerifyMACIgnoresExtraKeys(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	mac := cryptox.ComputeMAC(canonicalPayload, now.Unix(), "whsec_a")
	header := fmt.Sprintf("t=%d,v0=legacy,v1=%s,extra=1", now.Unix(), mac)

	if err := cryptox.VerifyMAC(canonicalPayload, header, []string{"whsec_a"}, 5*time.Minute, now); err != nil {
		t.Fatalf("VerifyMAC with extra keys: %v", err)
	}
}

func TestVerifyMACPayloadBinding(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	header := signedHeader(canonicalPayload, "whsec_a", now.Unix())

	other := `{"user_id":"usr_2","account_id":"acct_1"}`
	if err := cryptox.VerifyMAC(other, header, []string{"whsec_a"}, 5*time.Minute, now); err != cryptox.ErrSignatureMismatch {
		t.Fatalf("VerifyMAC over different payload: got %v, want ErrSignatureMismatch", err)
	}
}
