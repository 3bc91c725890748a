package credential

import (
	"context"
	"errors"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

// ErrNotFound is returned by resolvers when no assertion of the requested
// role exists for the subject.
var ErrNotFound = errors.New("credential not found")

// Resolver resolves a capability assertion for a subject. The production
// resolver verifies signed credential tokens; tests use StaticResolver.
type Resolver interface {
	Resolve(ctx context.Context, subjectID string, role domain.Role) (*domain.Credential, error)
}

// ReputationSource supplies live reputation for a subject, overlaying the
// value baked into the assertion at issuance time.
type ReputationSource interface {
	Reputation(ctx context.Context, subjectID string) (int, bool, error)
}

// Gate verifies that a caller's identity carries the capability required
// for an action. Verification is pure: no side effects, and the result is
// authoritative over any cached "is verified" flag upstream.
type Gate struct {
	resolver   Resolver
	reputation ReputationSource
	now        func() time.Time
}

// NewGate constructs a gate. reputation may be nil.
func NewGate(resolver Resolver, reputation ReputationSource) *Gate {
	return &Gate{resolver: resolver, reputation: reputation, now: time.Now}
}

// Verify resolves the credential for subjectID and requiredRole. Absence
// and expiry are both surfaced as blocking failures; callers treat them
// identically and never retry automatically.
func (g *Gate) Verify(ctx context.Context, subjectID string, requiredRole domain.Role) (*domain.Credential, error) {
	cred, err := g.resolver.Resolve(ctx, subjectID, requiredRole)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.NewCredentialNotFound(subjectID, string(requiredRole))
		}
		return nil, apperrors.MapError(err)
	}
	if cred.Role != requiredRole {
		return nil, apperrors.NewCredentialNotFound(subjectID, string(requiredRole))
	}
	if cred.Expired(g.now()) {
		return nil, apperrors.NewCredentialExpired(subjectID, string(requiredRole))
	}
	if g.reputation != nil {
		if rep, ok, err := g.reputation.Reputation(ctx, subjectID); err == nil && ok {
			cred.Reputation = rep
		}
	}
	return cred, nil
}

// StaticResolver serves assertions from an in-memory map, keyed by
// subject and role.
type StaticResolver struct {
	creds map[string]map[domain.Role]*domain.Credential
}

// NewStaticResolver builds a resolver over the given credentials.
func NewStaticResolver(creds ...*domain.Credential) *StaticResolver {
	r := &StaticResolver{creds: make(map[string]map[domain.Role]*domain.Credential)}
	for _, c := range creds {
		r.Add(c)
	}
	return r
}

// Add registers a credential.
func (r *StaticResolver) Add(c *domain.Credential) {
	byRole, ok := r.creds[c.SubjectID]
	if !ok {
		byRole = make(map[domain.Role]*domain.Credential)
		r.creds[c.SubjectID] = byRole
	}
	byRole[c.Role] = c
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, subjectID string, role domain.Role) (*domain.Credential, error) {
	byRole, ok := r.creds[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	cred, ok := byRole[role]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cred
	cp.Permissions = append([]string(nil), cred.Permissions...)
	return &cp, nil
}
