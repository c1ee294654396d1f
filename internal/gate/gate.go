// Package gate skips redundant pipeline work when upstream content is unchanged.
package gate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Decision is the outcome of a gate check.
type Decision int

const (
	// Proceed means the fingerprint differs from the stored one.
	Proceed Decision = iota
	// Skip means the content was already considered.
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "proceed"
}

// CommitMode controls when a new fingerprint is written.
type CommitMode string

const (
	// CommitBeforePersist writes the fingerprint as soon as a run decides to proceed.
	CommitBeforePersist CommitMode = "before_persist"
	// CommitAfterPersist writes the fingerprint only after a confirmed batch write.
	CommitAfterPersist CommitMode = "after_persist"
)

// Store is a string key-value store holding one fingerprint per source.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
}

// Detector compares fingerprints against the stored gate value.
type Detector struct {
	store Store
}

// NewDetector wraps a gate store.
func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// ShouldProceed reads the stored fingerprint for key and compares it. It never writes.
func (d *Detector) ShouldProceed(ctx context.Context, fingerprint, key string) (Decision, error) {
	stored, ok, err := d.store.Get(ctx, key)
	if err != nil {
		return Proceed, fmt.Errorf("read gate %s: %w", key, err)
	}
	if ok && stored == fingerprint {
		return Skip, nil
	}
	return Proceed, nil
}

// Commit records fingerprint as the last considered content for key.
func (d *Detector) Commit(ctx context.Context, key, fingerprint string) error {
	if err := d.store.Put(ctx, key, fingerprint); err != nil {
		return fmt.Errorf("write gate %s: %w", key, err)
	}
	return nil
}

// FingerprintJSON digests the canonical JSON encoding of v.
func FingerprintJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode payload for fingerprint: %w", err)
	}
	return digest(raw), nil
}

// FingerprintKeys digests natural keys joined by commas, in order.
func FingerprintKeys(keys []string) string {
	return digest([]byte(strings.Join(keys, ",")))
}

func digest(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-process Store used for dry runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

var _ Store = (*MemoryStore)(nil)
