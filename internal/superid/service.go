// Package superid is a downstream service that accepts M2M tokens issued by
// the auth service and hands out UUIDv4 super ids.
package superid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	MinCount = 1
	MaxCount = 100
)

var ErrInvalidCount = fmt.Errorf("count must be between %d and %d", MinCount, MaxCount)

// Recorder persists generated ids. *pg.Store satisfies it.
type Recorder interface {
	RecordSuperIDs(ctx context.Context, clientID string, superIDs []string, metadata map[string]any) error
}

type Service struct {
	rec   Recorder
	newID func() string
}

func NewService(rec Recorder) *Service {
	return &Service{rec: rec, newID: uuid.NewString}
}

// Generate creates count ids on behalf of clientID and records them before
// returning.
func (s *Service) Generate(ctx context.Context, clientID string, count int, metadata map[string]any) ([]string, error) {
	if count < MinCount || count > MaxCount {
		return nil, ErrInvalidCount
	}
	if clientID == "" {
		return nil, errors.New("client id is required")
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = s.newID()
	}
	if err := s.rec.RecordSuperIDs(ctx, clientID, ids, metadata); err != nil {
		return nil, fmt.Errorf("record super ids: %w", err)
	}
	return ids, nil
}

// Record is one id held by MemoryRecorder.
type Record struct {
	SuperID   string
	ClientID  string
	Metadata  map[string]any
	CreatedAt time.Time
}

// MemoryRecorder keeps generated ids in process. It backs the service when
// no database is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
	seen    map[string]struct{}
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{seen: make(map[string]struct{})}
}

func (m *MemoryRecorder) RecordSuperIDs(_ context.Context, clientID string, superIDs []string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range superIDs {
		if _, dup := m.seen[id]; dup {
			return fmt.Errorf("super id %s already recorded", id)
		}
	}
	now := time.Now().UTC()
	for _, id := range superIDs {
		m.seen[id] = struct{}{}
		m.records = append(m.records, Record{SuperID: id, ClientID: clientID, Metadata: metadata, CreatedAt: now})
	}
	return nil
}

// Records returns a copy of everything recorded so far.
func (m *MemoryRecorder) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
