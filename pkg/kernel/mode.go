package kernel

// Mode separates Stripe test credentials and data from live ones. Each tenant
// may hold an independent connection in each mode.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// ParseMode maps a string to a Mode, defaulting to test for anything unknown.
func ParseMode(s string) Mode {
	if s == string(ModeLive) {
		return ModeLive
	}
	return ModeTest
}

func (m Mode) String() string { return string(m) }

// Livemode returns the boolean form used on the wire and in the database.
func (m Mode) Livemode() bool { return m == ModeLive }

// ModeFromLivemode converts the wire/database boolean back to a Mode.
func ModeFromLivemode(live bool) Mode {
	if live {
		return ModeLive
	}
	return ModeTest
}
