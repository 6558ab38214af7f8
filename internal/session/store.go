package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Sensify-Lab/CLAP-MTurk-Interface/internal/survey"
)

var (
	ErrNotFound = errors.New("session: no stored survey state")
	ErrLocked   = errors.New("session: another action is in progress")
)

// Store keeps one survey controller per session and serialises actions on a
// session. Lock never blocks: a held lock is ErrLocked.
type Store interface {
	Load(ctx context.Context, sessionID string) (*survey.Controller, error)
	Save(ctx context.Context, sessionID string, c *survey.Controller) error
	Delete(ctx context.Context, sessionID string) error
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// MemoryStore is a Store for a single process. State expires after ttl.
type MemoryStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	states map[string]memoryEntry
	locks  map[string]struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:    ttl,
		now:    time.Now,
		states: map[string]memoryEntry{},
		locks:  map[string]struct{}{},
	}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*survey.Controller, error) {
	s.mu.Lock()
	e, ok := s.states[sessionID]
	if ok && s.now().After(e.expiresAt) {
		delete(s.states, sessionID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var c survey.Controller
	if err := json.Unmarshal(e.data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MemoryStore) Save(ctx context.Context, sessionID string, c *survey.Controller) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.states[sessionID] = memoryEntry{data: b, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.states, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[sessionID]; held {
		return nil, ErrLocked
	}
	s.locks[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, sessionID)
			s.mu.Unlock()
		})
	}, nil
}
