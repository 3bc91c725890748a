package domain

import "time"

// Role enumerates the capabilities a party can hold.
type Role string

const (
	RoleClient    Role = "CLIENT"
	RoleAnalyst   Role = "ANALYST"
	RoleCertifier Role = "CERTIFIER"
)

// ValidRole reports whether r names a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleClient, RoleAnalyst, RoleCertifier:
		return true
	}
	return false
}

// Credential is a capability assertion about a party, resolved from the
// identity layer. Reputation is an integer percentage in [0,100].
type Credential struct {
	SubjectID   string
	Role        Role
	Permissions []string
	Reputation  int
	IssuedAt    time.Time
	ExpiresAt   *time.Time
}

// Expired reports whether the assertion's validity window has lapsed.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// HasPermission reports whether the credential carries the named permission.
func (c *Credential) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
