package domain

import "time"

// Session binds an opaque cookie token to a user for its lifetime.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// Expired reports whether the session is expired relative to now.
func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return now.UTC().After(s.ExpiresAt.UTC())
}
