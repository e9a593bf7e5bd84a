// Package session persists the mapping from external conversation ids to
// upstream Claude Code session ids.
//
// The store is backed by a single JSON file in the user's home directory,
// loaded on first use and held in memory afterwards. Every mutation rewrites
// the whole file; write failures are logged, never surfaced, because losing a
// session mapping only costs conversation continuity, not correctness.
// Entries expire 24 hours after last use; [Store.StartCleanup] runs the
// expiry on an hourly ticker.
package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTTL bounds a mapping's lifetime, measured from last use.
	DefaultTTL = 24 * time.Hour

	// DefaultCleanupInterval is how often StartCleanup sweeps expired entries.
	DefaultCleanupInterval = time.Hour

	defaultFileName = ".claude-code-cli-sessions.json"
)

// Record is one persisted session mapping. Timestamps are milliseconds since
// epoch. ClawdbotID is the adapter's own correlation id (the external
// conversation id), kept alongside ClaudeSessionID — the upstream CLI's
// --session-id value — so the two namespaces stay distinguishable on disk.
type Record struct {
	ClawdbotID      string `json:"clawdbotId"`
	ClaudeSessionID string `json:"claudeSessionId"`
	CreatedAt       int64  `json:"createdAt"`
	LastUsedAt      int64  `json:"lastUsedAt"`
	Model           string `json:"model"`
}

// Store maps external conversation ids to upstream session ids, persisted as
// a JSON file. All methods are safe for concurrent use; a single mutex
// serializes request-path mutations against the cleanup ticker.
type Store struct {
	path   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	loaded  bool
	records map[string]Record

	stop     chan struct{}
	stopOnce sync.Once
}

// NewStore creates a Store backed by the file at path. An empty path selects
// $HOME/.claude-code-cli-sessions.json. A nil logger selects slog.Default().
func NewStore(path string, logger *slog.Logger) *Store {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, defaultFileName)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		ttl:    DefaultTTL,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

// GetOrCreate returns the mapping for conversationID, allocating a fresh
// upstream session id on first sight. The record's last-used timestamp
// strictly increases on every call, and the model is updated to the latest
// requested alias.
func (s *Store) GetOrCreate(conversationID, model string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	nowMS := s.now().UnixMilli()
	rec, ok := s.records[conversationID]
	if !ok {
		rec = Record{
			ClawdbotID:      conversationID,
			ClaudeSessionID: uuid.NewString(),
			CreatedAt:       nowMS,
			LastUsedAt:      nowMS,
			Model:           model,
		}
	} else {
		if nowMS <= rec.LastUsedAt {
			nowMS = rec.LastUsedAt + 1
		}
		rec.LastUsedAt = nowMS
		rec.Model = model
	}
	s.records[conversationID] = rec
	s.saveLocked()
	return rec
}

// Get returns the mapping for conversationID without touching its timestamps.
func (s *Store) Get(conversationID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	rec, ok := s.records[conversationID]
	return rec, ok
}

// Delete removes the mapping for conversationID, if any.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	if _, ok := s.records[conversationID]; !ok {
		return
	}
	delete(s.records, conversationID)
	s.saveLocked()
}

// Cleanup removes every mapping not used within the TTL.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadLocked()

	cutoff := s.now().Add(-s.ttl).UnixMilli()
	removed := 0
	for id, rec := range s.records {
		if rec.LastUsedAt < cutoff {
			delete(s.records, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired session mappings removed", "count", removed)
		s.saveLocked()
	}
}

// StartCleanup launches the periodic expiry sweep. Stop it with Close.
func (s *Store) StartCleanup() {
	go func() {
		ticker := time.NewTicker(DefaultCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup()
			case <-s.stop:
				return
			}
		}
	}()
}

// Close stops the cleanup ticker. It is safe to call multiple times.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// loadLocked populates the in-memory map from disk on first use. An absent or
// malformed file yields an empty store, never an error.
func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.records = make(map[string]Record)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("session file unreadable, starting empty", "path", s.path, "err", err)
		}
		return
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		s.logger.Warn("session file malformed, starting empty", "path", s.path, "err", err)
		s.records = make(map[string]Record)
	}
}

// saveLocked rewrites the whole file. Failures are logged and swallowed.
func (s *Store) saveLocked() {
	data, err := json.Marshal(s.records)
	if err != nil {
		s.logger.Warn("session file marshal failed", "err", err)
		return
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		s.logger.Warn("session file write failed", "path", s.path, "err", err)
	}
}
