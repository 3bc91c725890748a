package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// Claims is the payload of a signed credential assertion. Verifiable
// credentials arrive as compact JWTs issued by the identity layer.
type Claims struct {
	Role        domain.Role `json:"role"`
	Permissions []string    `json:"permissions"`
	Reputation  int         `json:"reputation"`
	jwt.RegisteredClaims
}

// TokenResolver resolves subjects to signed credential tokens and verifies
// them on every lookup. Tokens are registered as they are presented by
// wallets; verification happens at resolve time so revoked or expired
// assertions never pass the gate on a stale registration.
type TokenResolver struct {
	secret []byte

	mu     sync.RWMutex
	tokens map[string]map[domain.Role]string
}

// NewTokenResolver builds a resolver verifying with the given HMAC secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{
		secret: []byte(secret),
		tokens: make(map[string]map[domain.Role]string),
	}
}

// Register stores a presented credential token for later resolution. The
// token is verified before registration so malformed assertions are
// rejected at the door.
func (r *TokenResolver) Register(subjectID string, token string) (*domain.Credential, error) {
	cred, err := r.verify(subjectID, token)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byRole, ok := r.tokens[subjectID]
	if !ok {
		byRole = make(map[domain.Role]string)
		r.tokens[subjectID] = byRole
	}
	byRole[cred.Role] = token
	return cred, nil
}

// Resolve implements Resolver.
func (r *TokenResolver) Resolve(_ context.Context, subjectID string, role domain.Role) (*domain.Credential, error) {
	r.mu.RLock()
	byRole, ok := r.tokens[subjectID]
	var token string
	if ok {
		token, ok = byRole[role]
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cred, err := r.verify(subjectID, token)
	if err != nil {
		// A token that no longer verifies is treated as absent.
		return nil, ErrNotFound
	}
	return cred, nil
}

// IssueToken signs a credential assertion. Used by the memory-mode issuer
// and by tests; a production identity layer issues its own. A zero ttl
// issues a non-expiring assertion; anything else, including a negative
// ttl, sets the expiry accordingly.
func (r *TokenResolver) IssueToken(cred *domain.Credential, ttl time.Duration) (string, error) {
	claims := &Claims{
		Role:        cred.Role,
		Permissions: cred.Permissions,
		Reputation:  cred.Reputation,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  cred.SubjectID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(r.secret)
}

func (r *TokenResolver) verify(subjectID, token string) (*domain.Credential, error) {
	// Expiry is checked by the gate, not here, so that a lapsed validity
	// window surfaces as CREDENTIAL_EXPIRED rather than a parse failure.
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid credential token")
	}
	if claims.Subject != subjectID {
		return nil, errors.New("credential subject mismatch")
	}
	if !domain.ValidRole(claims.Role) {
		return nil, errors.New("unknown credential role")
	}
	cred := &domain.Credential{
		SubjectID:   claims.Subject,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		Reputation:  claims.Reputation,
	}
	if claims.IssuedAt != nil {
		cred.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		cred.ExpiresAt = &exp
	}
	return cred, nil
}
