package fingerprint

import (
	"bytes"
	"errors"
	"testing"

	apperrors "github.com/dsoc-platform/incident-escrow/pkg/util"
)

func TestFingerprintDeterministic(t *testing.T) {
	svc := NewService(0)
	payload := []byte("malware sample memo: connects to 203.0.113.7:4444")

	first, err := svc.Fingerprint(payload)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	second, err := svc.Fingerprint(append([]byte(nil), payload...))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if first.Hash != second.Hash {
		t.Fatalf("expected same hash, got %s vs %s", first.Hash, second.Hash)
	}
	if first.SizeBytes != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), first.SizeBytes)
	}
}

func TestFingerprintDiffersForDifferentBytes(t *testing.T) {
	svc := NewService(0)
	a, _ := svc.Fingerprint([]byte("report-a"))
	b, _ := svc.Fingerprint([]byte("report-b"))
	if a.Hash == b.Hash {
		t.Fatalf("expected different hashes")
	}
}

func TestFingerprintKnownVector(t *testing.T) {
	svc := NewService(0)
	d, err := svc.Fingerprint([]byte("abc"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if d.Hash != want {
		t.Fatalf("expected %s, got %s", want, d.Hash)
	}
}

func TestFingerprintRejectsOversizedPayload(t *testing.T) {
	svc := NewService(8)
	_, err := svc.Fingerprint(bytes.Repeat([]byte{0xAB}, 9))
	if err == nil {
		t.Fatalf("expected error for oversized payload")
	}
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "PAYLOAD_TOO_LARGE" {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %v", err)
	}
}

func TestFingerprintAcceptsPayloadAtLimit(t *testing.T) {
	svc := NewService(8)
	if _, err := svc.Fingerprint(bytes.Repeat([]byte{0xAB}, 8)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
