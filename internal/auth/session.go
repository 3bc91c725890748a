package auth

import (
	"errors"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

// SessionManager issues and revokes wallet sessions. A session binds a
// derived ledger address and declared role to a signed bearer token;
// disconnecting revokes the token before its expiry.
type SessionManager struct {
	secret []byte
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewSessionManager builds a manager with the given signing secret and
// session lifetime.
func NewSessionManager(secret string, ttlMinutes int) *SessionManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &SessionManager{
		secret:   []byte(secret),
		ttl:      time.Duration(ttlMinutes) * time.Minute,
		sessions: make(map[string]*domain.Session),
	}
}

// SessionClaims is the JWT payload for a wallet session.
type SessionClaims struct {
	SessionID string      `json:"sid"`
	Address   string      `json:"address"`
	DID       string      `json:"did,omitempty"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Connect derives the ledger address from the public key, opens a
// session and returns it with its signed bearer token.
func (m *SessionManager) Connect(publicKey []byte, did string, role domain.Role) (*domain.Session, string, error) {
	if !domain.ValidRole(role) {
		return nil, "", errors.New("unknown role")
	}
	address, err := DeriveAddress(publicKey)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Address:   address,
		DID:       did,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	claims := &SessionClaims{
		SessionID: session.ID,
		Address:   session.Address,
		DID:       session.DID,
		Role:      session.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	return session, signed, nil
}

// Disconnect revokes the session. Revoked tokens fail Resolve even
// before their expiry.
func (m *SessionManager) Disconnect(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	delete(m.sessions, sessionID)
	return true
}

// Resolve validates a bearer token and returns the live session it
// names.
func (m *SessionManager) Resolve(tokenStr string) (*domain.Session, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}

	m.mu.RLock()
	session, ok := m.sessions[claims.SessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.New("session revoked or unknown")
	}
	if !session.Active(time.Now()) {
		return nil, errors.New("session expired")
	}
	return session, nil
}
