package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature verification failure kinds. Callers map these onto their own
// error registries; the reason is never echoed to the remote party beyond
// the mapped status code.
var (
	ErrSignatureMalformed = errors.New("cryptox: malformed signature header")
	ErrSignatureExpired   = errors.New("cryptox: signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("cryptox: signature does not match any secret")
)

// SignatureHeader is the parsed form of `t=<unix>,v1=<hex>,...`. Unknown
// keys are ignored for forward compatibility.
type SignatureHeader struct {
	Timestamp int64
	V1        string
}

// ParseSignatureHeader parses the comma-separated key=value header.
func ParseSignatureHeader(header string) (SignatureHeader, error) {
	var out SignatureHeader
	seenT := false
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return out, ErrSignatureMalformed
			}
			out.Timestamp = ts
			seenT = true
		case "v1":
			out.V1 = kv[1]
		}
	}
	if !seenT || out.V1 == "" {
		return out, ErrSignatureMalformed
	}
	return out, nil
}

// ComputeMAC returns the hex HMAC-SHA256 of `<t>.<payload>` under secret.
func ComputeMAC(payload string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", timestamp, payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyMAC checks a signed, timestamped header against the canonical
// payload. Every configured secret is tried (constant-time compare each) so
// signing secrets can rotate seamlessly.
func VerifyMAC(payload, header string, secrets []string, tolerance time.Duration, now time.Time) error {
	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := now.Unix() - sig.Timestamp
	if age < 0 {
		age = -age
	}
	if time.Duration(age)*time.Second > tolerance {
		return ErrSignatureExpired
	}

	received := []byte(sig.V1)
	for _, secret := range secrets {
		expected := []byte(ComputeMAC(payload, sig.Timestamp, secret))
		if hmac.Equal(received, expected) {
			return nil
		}
	}
	return ErrSignatureMismatch
}
