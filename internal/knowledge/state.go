package knowledge

import (
	"context"
	"sync"
	"time"
)

type Status string

const (
	StatusNotStarted Status = "NotStarted"
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

type BuildState struct {
	ConnectionID string     `json:"connectionId"`
	Status       Status     `json:"status"`
	Message      string     `json:"message,omitempty"`
	StartTime    *time.Time `json:"startTime,omitempty"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

func (s BuildState) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type StateStore interface {
	Get(ctx context.Context, connectionID string) (BuildState, bool, error)
	Put(ctx context.Context, state BuildState) error
	// PutIfAbsent stores state only when no record exists for its
	// connection and reports whether it did.
	PutIfAbsent(ctx context.Context, state BuildState) (bool, error)
}

type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]BuildState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[string]BuildState{}}
}

func (m *MemoryStateStore) Get(_ context.Context, connectionID string) (BuildState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[connectionID]
	return state, ok, nil
}

func (m *MemoryStateStore) Put(_ context.Context, state BuildState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ConnectionID] = state
	return nil
}

func (m *MemoryStateStore) PutIfAbsent(_ context.Context, state BuildState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[state.ConnectionID]; ok {
		return false, nil
	}
	m.states[state.ConnectionID] = state
	return true, nil
}

// KeyedLocks hands out one non-blocking exclusive lock per key.
type KeyedLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{held: map[string]struct{}{}}
}

// TryLock returns ok=false immediately when key is already held.
func (k *KeyedLocks) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.held[key]; busy {
		return nil, false
	}
	k.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			k.mu.Lock()
			delete(k.held, key)
			k.mu.Unlock()
		})
	}, true
}

func (k *KeyedLocks) Held(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, busy := k.held[key]
	return busy
}
