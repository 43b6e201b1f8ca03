package kernel

// AuthContext is the identity extracted from a verified dashboard request
// signature. Handlers must key all storage access by TenantID from here,
// never by client-supplied values.
type AuthContext struct {
	UserID   UserID   `json:"user_id"`
	TenantID TenantID `json:"account_id"`
}

func (ac *AuthContext) IsValid() bool {
	return ac != nil && !ac.UserID.IsEmpty() && !ac.TenantID.IsEmpty()
}

// AuthLocalKey is the Fiber locals key under which the verified AuthContext
// is stored by the signature middleware.
const AuthLocalKey = "auth_context"
