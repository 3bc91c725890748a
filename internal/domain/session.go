package domain

import "time"

// Session is an explicit wallet session: a connected party with a derived
// ledger address and decentralized identity. It is passed into the
// credential gate and ledger adapter calls rather than living in ambient
// global state, and it has an explicit connect/disconnect lifecycle.
type Session struct {
	ID        string
	Address   string
	DID       string
	Role      Role
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the session is still within its lifetime.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}
