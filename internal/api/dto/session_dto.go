package dto

import "time"

// SessionConnectRequest is the payload for POST /session/connect.
type SessionConnectRequest struct {
	PublicKey string `json:"public_key"`
	DID       string `json:"did,omitempty"`
	Role      string `json:"role"`
}

// SessionDisconnectRequest is the payload for POST /session/disconnect.
type SessionDisconnectRequest struct {
	SessionID string `json:"session_id"`
}

// SessionResponse describes an opened wallet session.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Address   string    `json:"address"`
	DID       string    `json:"did,omitempty"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
