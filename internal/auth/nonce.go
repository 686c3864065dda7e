package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"seatswap-backend/internal/models"
)

const (
	// DefaultNonceTTL bounds how long an issued challenge stays valid.
	DefaultNonceTTL = 600 * time.Second
	// DefaultNonceBytes is the random length of a challenge before hex encoding.
	DefaultNonceBytes = 16
	// DefaultSweepInterval is how often expired entries are proactively
	// evicted. Lookup already self-evicts, the sweep only bounds memory.
	DefaultSweepInterval = 5 * time.Minute
)

type nonceEntry struct {
	nonce     string
	expiresAt time.Time
}

// NonceRegistry holds the live SIWE challenge per address. It is ephemeral
// process-local state: at most one nonce per lowercased address, replaced on
// re-issue and consumed on successful verification.
type NonceRegistry struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	ttl     time.Duration
	byteLen int
	now     func() time.Time
}

// NewNonceRegistry creates a registry with the given default TTL. A zero ttl
// selects DefaultNonceTTL.
func NewNonceRegistry(ttl time.Duration) *NonceRegistry {
	if ttl <= 0 {
		ttl = DefaultNonceTTL
	}
	return &NonceRegistry{
		entries: make(map[string]nonceEntry),
		ttl:     ttl,
		byteLen: DefaultNonceBytes,
		now:     time.Now,
	}
}

// Issue generates a random hex nonce for the address using the default TTL,
// silently replacing any previous challenge.
func (r *NonceRegistry) Issue(address string) (string, error) {
	return r.IssueWithTTL(address, r.ttl)
}

// IssueWithTTL is Issue with an explicit expiry window.
func (r *NonceRegistry) IssueWithTTL(address string, ttl time.Duration) (string, error) {
	buf := make([]byte, r.byteLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[models.NormalizeAddress(address)] = nonceEntry{
		nonce:     nonce,
		expiresAt: r.now().Add(ttl),
	}
	return nonce, nil
}

// Lookup returns the live nonce for the address. An expired entry is evicted
// as a side effect and reported as absent.
func (r *NonceRegistry) Lookup(address string) (string, bool) {
	addr := models.NormalizeAddress(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[addr]
	if !ok {
		return "", false
	}
	if !r.now().Before(entry.expiresAt) {
		delete(r.entries, addr)
		return "", false
	}
	return entry.nonce, true
}

// Revoke removes any challenge for the address. It never fails.
func (r *NonceRegistry) Revoke(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, models.NormalizeAddress(address))
}

// Run sweeps expired entries every interval until the context is cancelled.
func (r *NonceRegistry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *NonceRegistry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for addr, entry := range r.entries {
		if !now.Before(entry.expiresAt) {
			delete(r.entries, addr)
		}
	}
}

// Len reports the number of stored entries, live or not.
func (r *NonceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
