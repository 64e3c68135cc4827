package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/igorsilveira/deckhand/pkg/a2a"
)

// Store persists registrations. Get returns ErrNotFound for unknown
// capabilities.
type Store interface {
	Save(ctx context.Context, capability string, card *a2a.AgentCard) error
	Get(ctx context.Context, capability string) (*a2a.AgentCard, error)
	List(ctx context.Context) ([]Registration, error)
	Close() error
}

type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]*a2a.AgentCard
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cards: make(map[string]*a2a.AgentCard)}
}

func (s *MemoryStore) Save(_ context.Context, capability string, card *a2a.AgentCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards[capability] = card.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, capability string) (*a2a.AgentCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[capability]
	if !ok {
		return nil, ErrNotFound
	}
	return card.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Registration, 0, len(s.cards))
	for c, card := range s.cards {
		out = append(out, Registration{Capability: c, Card: card.Clone()})
	}
	sortRegistrations(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortRegistrations(regs []Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].Capability < regs[j].Capability })
}
