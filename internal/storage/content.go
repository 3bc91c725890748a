package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dsoc-platform/incident-escrow/internal/config"
)

// ContentStore puts raw bytes into content-addressed storage and returns
// a locator. The core never interprets the locator beyond string equality
// and display.
type ContentStore interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// HTTPContentStore uploads to an IPFS-style HTTP API.
type HTTPContentStore struct {
	client *http.Client
	apiURL string
	token  string
}

// NewHTTPContentStore builds the uploader.
func NewHTTPContentStore(cfg config.StorageConfig) *HTTPContentStore {
	return &HTTPContentStore{
		client: &http.Client{Timeout: 2 * time.Minute},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.AuthToken,
	}
}

type putResponse struct {
	CID string `json:"cid"`
}

// Put implements ContentStore.
func (s *HTTPContentStore) Put(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("content store status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed putResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if parsed.CID == "" {
		return "", fmt.Errorf("content store returned empty locator")
	}
	return parsed.CID, nil
}

// MemContentStore keeps uploads in memory, deriving a stable
// content-addressed locator from the payload. Used in tests and in
// memory-mode deployments.
type MemContentStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemContentStore builds the in-memory store.
func NewMemContentStore() *MemContentStore {
	return &MemContentStore{blobs: make(map[string][]byte)}
}

// Put implements ContentStore.
func (s *MemContentStore) Put(_ context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	locator := "bafk" + hex.EncodeToString(sum[:16])
	s.mu.Lock()
	s.blobs[locator] = append([]byte(nil), data...)
	s.mu.Unlock()
	return locator, nil
}

// Get returns stored bytes, for test assertions.
func (s *MemContentStore) Get(locator string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[locator]
	return data, ok
}
