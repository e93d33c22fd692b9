// Package store implements the Flag Store: a TTL cache of flag states
// with fresh and stale read paths, FIFO-by-insertion eviction, and
// hit/miss statistics. It follows the reader-writer discipline the rest
// of the corpus uses for shared in-memory state: a sync.RWMutex guarding
// a plain map, never a half-constructed entry visible to readers.
package store

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/flagkit/flagkit-go/pkg/model"
)

// Clock abstracts time.Now so tests can control expiry deterministically.
type Clock func() time.Time

// Encryptor wraps and unwraps the JSON-encoded FlagState stored in an
// Entry. When set on a Store, every Set encrypts before storage and
// every Get/GetStale decrypts on the way out.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// Entry wraps a FlagState with its cache lifecycle timestamps. When the
// entry was written while the Store had an Encryptor, Flag is the zero
// value and EncryptedFlag holds the ciphertext instead.
type Entry struct {
	Flag           model.FlagState
	EncryptedFlag  string
	FetchedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
}

// Stats is a snapshot of store counters.
type Stats struct {
	Size       int
	ValidCount int
	StaleCount int
	MaxSize    int
	Hits       uint64
	Misses     uint64
}

// Store is the Flag Store. The zero value is not usable; construct with
// New.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	maxSize int
	now     Clock
	enc     Encryptor

	hits   uint64
	misses uint64
}

// DefaultMaxSize is the eviction ceiling when none is configured.
const DefaultMaxSize = 1000

// BootstrapTTL is the effectively-non-expiring TTL used for bootstrap
// entries.
const BootstrapTTL = 100 * 365 * 24 * time.Hour

// New constructs a Store with the given eviction ceiling. maxSize <= 0
// uses DefaultMaxSize.
func New(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Store{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(maxSize int, clock Clock) *Store {
	s := New(maxSize)
	s.now = clock
	return s
}

// SetEncryptor installs enc so every subsequent Set encrypts its
// FlagState before storage and every Get/GetStale decrypts it on the
// way out. Entries already in the store are unaffected until rewritten.
func (s *Store) SetEncryptor(enc Encryptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enc = enc
}

// decodeLocked resolves e's flag, decrypting first if the store has an
// Encryptor. A decryption failure is reported as if the entry were
// absent, per the Flag Store's contract with the Evaluator.
func (s *Store) decodeLocked(e *Entry) (model.FlagState, bool) {
	if s.enc == nil || e.EncryptedFlag == "" {
		return e.Flag.Clone(), true
	}
	plaintext, err := s.enc.Decrypt(e.EncryptedFlag)
	if err != nil {
		return model.FlagState{}, false
	}
	var flag model.FlagState
	if err := json.Unmarshal([]byte(plaintext), &flag); err != nil {
		return model.FlagState{}, false
	}
	return flag, true
}

// Get returns the flag if present and not expired, recording a hit. A
// miss (absent, expired, or undecryptable) records a miss and returns
// ok=false.
func (s *Store) Get(key string) (model.FlagState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, present := s.entries[key]
	if !present || s.now().After(e.ExpiresAt) {
		s.misses++
		return model.FlagState{}, false
	}
	flag, ok := s.decodeLocked(e)
	if !ok {
		s.misses++
		return model.FlagState{}, false
	}
	s.hits++
	e.LastAccessedAt = s.now()
	return flag, true
}

// GetStale returns the entry regardless of expiry, without touching
// hit/miss counters.
func (s *Store) GetStale(key string) (model.FlagState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, present := s.entries[key]
	if !present {
		return model.FlagState{}, false
	}
	return s.decodeLocked(e)
}

// Set inserts or replaces key with flag, expiring ttl after now.
func (s *Store) Set(key string, flag model.FlagState, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, flag, ttl)
}

// SetMany inserts or replaces a batch of flags under one lock
// acquisition, sharing ttl across all of them.
func (s *Store) SetMany(flags []model.FlagState, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range flags {
		s.setLocked(f.Key, f, ttl)
	}
}

func (s *Store) setLocked(key string, flag model.FlagState, ttl time.Duration) {
	entry := Entry{}
	if s.enc != nil {
		raw, err := json.Marshal(flag)
		if err != nil {
			return
		}
		blob, err := s.enc.Encrypt(string(raw))
		if err != nil {
			return
		}
		entry.EncryptedFlag = blob
	} else {
		entry.Flag = flag
	}

	now := s.now()
	if _, present := s.entries[key]; !present && len(s.entries) >= s.maxSize {
		s.evictOldestLocked()
	}
	entry.FetchedAt = now
	entry.ExpiresAt = now.Add(ttl)
	entry.LastAccessedAt = now
	s.entries[key] = &entry
}

// evictOldestLocked removes the entry with the smallest FetchedAt. The
// caller must hold the write lock. Ties are broken arbitrarily, per the
// FIFO-by-insertion policy: churning readers must not extend the life
// of stale entries.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range s.entries {
		if first || e.FetchedAt.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.FetchedAt, false
		}
	}
	if !first {
		delete(s.entries, oldestKey)
	}
}

// Has reports whether key is present, possibly stale.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, present := s.entries[key]
	return present
}

// IsStale reports whether key is present and expired. Absent keys are
// not stale.
func (s *Store) IsStale(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, present := s.entries[key]
	if !present {
		return false
	}
	return s.now().After(e.ExpiresAt)
}

// Delete removes key if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
}

// AllKeys returns every known key, stale or fresh.
func (s *Store) AllKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// All returns every flag, stale or fresh.
func (s *Store) All() map[string]model.FlagState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.FlagState, len(s.entries))
	for k, e := range s.entries {
		if flag, ok := s.decodeLocked(e); ok {
			out[k] = flag
		}
	}
	return out
}

// Size returns the number of entries, stale or fresh.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats returns a snapshot of store counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	stats := Stats{
		Size:    len(s.entries),
		MaxSize: s.maxSize,
		Hits:    s.hits,
		Misses:  s.misses,
	}
	for _, e := range s.entries {
		if now.After(e.ExpiresAt) {
			stats.StaleCount++
		} else {
			stats.ValidCount++
		}
	}
	return stats
}
