package kernel

// TenantID is the opaque account identifier assigned by Stripe (acct_...).
type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

// Redacted returns the last 6 characters of the id, for log and summary use.
func (t TenantID) Redacted() string {
	s := string(t)
	if len(s) <= 6 {
		return s
	}
	return "…" + s[len(s)-6:]
}

// UserID is the dashboard user identifier assigned by Stripe (usr_...).
type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }
