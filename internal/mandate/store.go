// Package mandate caches vendor-issued mandate tokens between runs so an
// agent can reuse its spending authorization instead of issuing a new one on
// every invocation.
package mandate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultStoreFile is the cache location under the user's home directory.
const DefaultStoreFile = ".agentgatepay_mandates.json"

// Record is one cached mandate for an agent identity. The token itself is
// opaque; only expiry and remaining budget are interpreted locally.
type Record struct {
	MandateToken    string  `json:"mandate_token"`
	ExpiresAt       int64   `json:"expires_at"`
	BudgetUSD       float64 `json:"budget_usd"`
	BudgetRemaining string  `json:"budget_remaining"`
	SavedAt         string  `json:"saved_at"`
}

// Store is a flat agentID -> Record map persisted as a JSON file. Writes go
// through a process-level mutex and an atomic rename, so a single process may
// have many goroutines; running multiple processes against the same file per
// identity remains unsupported.
type Store struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewStore opens the store at path. An empty path resolves to
// ~/.agentgatepay_mandates.json.
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, DefaultStoreFile)
	}
	return &Store{path: path, logger: logger}, nil
}

// Save stores or overwrites the mandate for agentID.
func (s *Store) Save(agentID string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage := s.load()
	rec.SavedAt = time.Now().Format(time.RFC3339)
	storage[agentID] = rec
	return s.flush(storage)
}

// Get returns the cached mandate for agentID, or nil when none is stored.
// An entry whose expiry has passed is deleted and treated as absent.
func (s *Store) Get(agentID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage := s.load()
	rec, ok := storage[agentID]
	if !ok {
		return nil, nil
	}

	if rec.ExpiresAt > 0 && time.Now().Unix() > rec.ExpiresAt {
		s.logger.WithField("agent_id", agentID).Info("Cached mandate expired, removing")
		delete(storage, agentID)
		if err := s.flush(storage); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &rec, nil
}

// Clear removes the mandate for agentID, if any.
func (s *Store) Clear(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storage := s.load()
	if _, ok := storage[agentID]; !ok {
		return nil
	}
	delete(storage, agentID)
	return s.flush(storage)
}

// load reads the cache file, treating a missing or corrupt file as empty.
func (s *Store) load() map[string]Record {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Record{}
	}

	var storage map[string]Record
	if err := json.Unmarshal(data, &storage); err != nil {
		s.logger.Warnf("Mandate cache at %s is corrupt, starting fresh: %v", s.path, err)
		return map[string]Record{}
	}
	return storage
}

// flush writes the map to a temp file and renames it over the store path.
func (s *Store) flush(storage map[string]Record) error {
	data, err := json.MarshalIndent(storage, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mandate cache: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".mandates-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mandate cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace mandate cache: %w", err)
	}
	return nil
}
