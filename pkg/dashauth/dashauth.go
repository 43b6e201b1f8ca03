// Package dashauth verifies signed dashboard requests. The app frontend
// signs the canonical identity payload with the app's signing secret; the
// middleware rejects anything that does not carry a valid, recent signature
// and pins the request's identity for everything downstream.
package dashauth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/relaydata/stripebridge/pkg/cryptox"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/kernel"
)

// SignatureHeaderName carries the timestamped HMAC.
const SignatureHeaderName = "Stripe-Signature"

var ErrRegistry = errx.NewRegistry("DASHAUTH")

var (
	CodeMissingHeader = ErrRegistry.Register("MISSING_HEADER", errx.TypeAuthorization, http.StatusUnauthorized,
		"Signature header is missing")
	CodeMissingIdentifiers = ErrRegistry.Register("MISSING_IDENTIFIERS", errx.TypeValidation, http.StatusBadRequest,
		"user_id and account_id are required")
	CodeInvalidSignature = ErrRegistry.Register("INVALID_SIGNATURE", errx.TypeAuthorization, http.StatusUnauthorized,
		"Request signature is invalid or expired")
	CodeMisconfigured = ErrRegistry.Register("MISCONFIGURED", errx.TypeInternal, http.StatusInternalServerError,
		"Signature verification is not configured")
)

func ErrMissingHeader() *errx.Error      { return ErrRegistry.New(CodeMissingHeader) }
func ErrMissingIdentifiers() *errx.Error { return ErrRegistry.New(CodeMissingIdentifiers) }
func ErrInvalidSignature() *errx.Error   { return ErrRegistry.New(CodeInvalidSignature) }
func ErrMisconfigured() *errx.Error      { return ErrRegistry.New(CodeMisconfigured) }

// CanonicalPayload is the exact string both sides sign. Field order is part
// of the contract, so it is built by formatting rather than marshalling.
func CanonicalPayload(userID kernel.UserID, tenantID kernel.TenantID) string {
	return fmt.Sprintf(`{"user_id":"%s","account_id":"%s"}`, userID, tenantID)
}

// Verifier checks dashboard signatures against a rotating secret list.
type Verifier struct {
	secrets   []string
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secrets []string, tolerance time.Duration) *Verifier {
	return &Verifier{secrets: secrets, tolerance: tolerance, now: time.Now}
}

// Verify maps the cryptox failure kinds onto the registry. It never reports
// which secret matched, or how close a mismatch was.
func (v *Verifier) Verify(header string, userID kernel.UserID, tenantID kernel.TenantID) error {
	if len(v.secrets) == 0 {
		return ErrMisconfigured()
	}
	if header == "" {
		return ErrMissingHeader()
	}
	if userID.IsEmpty() || tenantID.IsEmpty() {
		return ErrMissingIdentifiers()
	}

	// Malformed, expired, and mismatched all collapse to one answer so the
	// response leaks nothing about which check failed.
	if err := cryptox.VerifyMAC(CanonicalPayload(userID, tenantID), header, v.secrets, v.tolerance, v.now()); err != nil {
		return ErrInvalidSignature().WithCause(err)
	}
	return nil
}
