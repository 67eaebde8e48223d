package filestore

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/catalog-enricher/internal/pkg/logger"
)

// DefaultSweepInterval is how often Run deletes expired entries.
const DefaultSweepInterval = 60 * time.Second

// MemoryStore is an in-process Store. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	ttl     time.Duration
	now     func() time.Time
	log     *logger.Logger
}

// NewMemoryStore creates a store whose entries live for ttl (DefaultTTL if <= 0).
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		now:     time.Now,
		log:     logger.With("component", "filestore"),
	}
}

func (s *MemoryStore) Put(_ context.Context, data []byte, filename, mimeType string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.entries[token] = &Entry{
		Data:      data,
		Filename:  filename,
		MIMEType:  mimeType,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()
	return token, nil
}

// Get returns ErrNotFound once the entry has expired, swept or not.
func (s *MemoryStore) Get(_ context.Context, token string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok || e.Expired(s.now()) {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// Len returns the number of entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep deletes every expired entry and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for token, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, token)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
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
			if n := s.Sweep(); n > 0 {
				s.log.Debug("swept expired files", "count", n)
			}
		}
	}
}
