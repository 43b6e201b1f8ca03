package dashauth

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/relaydata/stripebridge/pkg/kernel"
	"github.com/relaydata/stripebridge/pkg/logx"
)

// Middleware returns a Fiber handler that authenticates dashboard requests
// and stores the verified identity in locals under kernel.AuthLocalKey.
//
// Identifiers come from the query string on GET and DELETE and from the JSON
// body otherwise, mirroring how the dashboard frontend sends them.
func Middleware(verifier *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, tenantID := extractIdentifiers(c)

		if err := verifier.Verify(c.Get(SignatureHeaderName), userID, tenantID); err != nil {
			logx.WithFields(logx.Fields{
				"path":   c.Path(),
				"method": c.Method(),
			}).Warn("dashboard signature rejected")
			return err
		}

		c.Locals(kernel.AuthLocalKey, &kernel.AuthContext{
			UserID:   userID,
			TenantID: tenantID,
		})
		return c.Next()
	}
}

// FromLocals returns the AuthContext stored by the middleware, or nil.
func FromLocals(c *fiber.Ctx) *kernel.AuthContext {
	ac, _ := c.Locals(kernel.AuthLocalKey).(*kernel.AuthContext)
	return ac
}

func extractIdentifiers(c *fiber.Ctx) (kernel.UserID, kernel.TenantID) {
	if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodDelete {
		return kernel.UserID(c.Query("user_id")), kernel.TenantID(c.Query("account_id"))
	}

	var body struct {
		UserID    string `json:"user_id"`
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return "", ""
	}
	return kernel.UserID(body.UserID), kernel.TenantID(body.AccountID)
}
