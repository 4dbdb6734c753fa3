package token

import "time"

// Status is the derived lifecycle state of a token, computed from its expiry
// at read time. Tokens never expire out of the store by themselves; only
// their link artifacts are torn down.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusExpiresSoon  Status = "EXPIRES_SOON"
	StatusExpiresToday Status = "EXPIRES_TODAY"
	StatusExpired      Status = "EXPIRED"
)

// Token grants a shareable read-only link to the merged calendar.
type Token struct {
	// Token is the opaque credential, also used as the artifact basename.
	Token string
	// Owner is the human label the token was issued for.
	Owner     string
	CreatedAt time.Time
	// Expiry is optional; nil means the token never expires.
	Expiry *time.Time
}

// Active reports whether the token's link artifacts should exist at now.
func (t Token) Active(now time.Time) bool {
	return t.Expiry == nil || !t.Expiry.Before(now)
}

// Status derives the reporting state at now. warnDays controls the
// EXPIRES_SOON horizon.
func (t Token) Status(now time.Time, warnDays int) Status {
	if t.Expiry == nil {
		return StatusActive
	}
	exp := t.Expiry.In(now.Location())
	if exp.Before(now) {
		return StatusExpired
	}
	if sameDay(exp, now) {
		return StatusExpiresToday
	}
	if warnDays > 0 && exp.Before(now.AddDate(0, 0, warnDays)) {
		return StatusExpiresSoon
	}
	return StatusActive
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
