package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/config"
)

// Notary anchors a content hash to an external notarization service.
// Anchoring is fire-and-forget from the core's perspective: the hash
// itself, not the anchor, is the binding proof stored on the ticket.
type Notary interface {
	Anchor(ctx context.Context, contentHash string) (string, error)
}

// HTTPNotary posts hashes to a notarization endpoint.
type HTTPNotary struct {
	client   *http.Client
	endpoint string
}

// NewHTTPNotary builds the anchoring client.
func NewHTTPNotary(cfg config.NotaryConfig) *HTTPNotary {
	return &HTTPNotary{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}
}

type anchorRequest struct {
	Hash     string         `json:"hash"`
	Metadata map[string]any `json:"metadata"`
}

type anchorResponse struct {
	AnchorID      string `json:"anchorId"`
	TransactionID string `json:"transactionId"`
}

// Anchor implements Notary.
func (n *HTTPNotary) Anchor(ctx context.Context, contentHash string) (string, error) {
	body, err := json.Marshal(anchorRequest{
		Hash: contentHash,
		Metadata: map[string]any{
			"timestamp": time.Now().UnixMilli(),
			"source":    "incident-escrow",
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint+"/anchor", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("notarization status %d", resp.StatusCode)
	}

	var parsed anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.AnchorID != "" {
		return parsed.AnchorID, nil
	}
	return parsed.TransactionID, nil
}

// MemNotary records anchored hashes in memory.
type MemNotary struct {
	mu      sync.Mutex
	anchors map[string]string
	seq     int
}

// NewMemNotary builds the in-memory notary.
func NewMemNotary() *MemNotary {
	return &MemNotary{anchors: make(map[string]string)}
}

// Anchor implements Notary.
func (n *MemNotary) Anchor(_ context.Context, contentHash string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	ref := fmt.Sprintf("anchor-%d", n.seq)
	n.anchors[contentHash] = ref
	return ref, nil
}

// AnchorRef returns the recorded anchor for a hash, for test assertions.
func (n *MemNotary) AnchorRef(contentHash string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ref, ok := n.anchors[contentHash]
	return ref, ok
}
