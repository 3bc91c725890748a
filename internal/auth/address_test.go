package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/domain"
)

func TestDeriveAddressDeterministic(t *testing.T) {
	key := []byte{0x04, 0x1b, 0x84, 0xc5, 0x56, 0x7b, 0x12, 0x64, 0x40, 0x99,
		0x5d, 0x3e, 0xd5, 0xaa, 0xba, 0x05, 0x65, 0xd7, 0x1e, 0x18,
		0x34, 0x60, 0x48, 0x19, 0xff, 0x9c, 0x17, 0xf5, 0xe9, 0xd5,
		0xdd, 0x07, 0x8f}

	first, err := DeriveAddress(key)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	second, err := DeriveAddress(key)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if first != second {
		t.Fatalf("address must be deterministic: %s vs %s", first, second)
	}
	if !ValidAddress(first) {
		t.Fatalf("derived address fails validation: %s", first)
	}
	if !strings.HasPrefix(first, "0x") || len(first) != 42 {
		t.Fatalf("expected 0x-prefixed 20-byte hex address, got %s", first)
	}
}

func TestDeriveAddressDistinctKeys(t *testing.T) {
	a, err := DeriveAddress([]byte("key-one"))
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, err := DeriveAddress([]byte("key-two"))
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if a == b {
		t.Fatal("distinct keys must derive distinct addresses")
	}
}

func TestDeriveAddressEmptyKey(t *testing.T) {
	if _, err := DeriveAddress(nil); err == nil {
		t.Fatal("expected error for empty public key")
	}
}

func TestParsePublicKey(t *testing.T) {
	key, err := ParsePublicKey("0xdeadbeef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(key) != 4 {
		t.Fatalf("expected 4 bytes, got %d", len(key))
	}
	if _, err := ParsePublicKey("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := ParsePublicKey(""); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSessionConnectResolveDisconnect(t *testing.T) {
	m := NewSessionManager("test-secret", 60)

	session, token, err := m.Connect([]byte("analyst-public-key"), "did:example:alice", domain.RoleAnalyst)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if session.Address == "" || session.Role != domain.RoleAnalyst {
		t.Fatalf("unexpected session: %+v", session)
	}
	if !session.Active(time.Now()) {
		t.Fatal("fresh session must be active")
	}

	resolved, err := m.Resolve(token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != session.ID || resolved.Address != session.Address {
		t.Fatal("resolved session does not match connected session")
	}

	if !m.Disconnect(session.ID) {
		t.Fatal("disconnect should report the session existed")
	}
	if _, err := m.Resolve(token); err == nil {
		t.Fatal("revoked session token must not resolve")
	}
	if m.Disconnect(session.ID) {
		t.Fatal("second disconnect should report no session")
	}
}

func TestSessionConnectRejectsUnknownRole(t *testing.T) {
	m := NewSessionManager("test-secret", 60)
	if _, _, err := m.Connect([]byte("key"), "", domain.Role("AUDITOR")); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSessionResolveRejectsForgedToken(t *testing.T) {
	m := NewSessionManager("secret-a", 60)
	other := NewSessionManager("secret-b", 60)

	_, token, err := other.Connect([]byte("key"), "", domain.RoleClient)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := m.Resolve(token); err == nil {
		t.Fatal("token signed with another secret must not resolve")
	}
}
