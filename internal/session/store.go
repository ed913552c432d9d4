package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkoval/todolist/internal/domain"
)

const sweepInterval = 5 * time.Minute

// ErrNotFound indicates the token maps to no live session.
var ErrNotFound = errors.New("session: not found")

// Store issues and resolves server-side sessions. Tokens are opaque; deleting
// a session revokes it immediately.
type Store interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (domain.Session, error)
	Get(ctx context.Context, token string) (domain.Session, error)
	Delete(ctx context.Context, token string) error
	Close()
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	stopCh   chan struct{}
	once     sync.Once
}

// NewMemoryStore returns an in-process session store. Suitable for a single
// instance; use the Redis store when running more than one.
func NewMemoryStore() Store {
	s := &memoryStore{
		sessions: make(map[string]domain.Session),
		stopCh:   make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

func (s *memoryStore) Create(ctx context.Context, userID string, ttl time.Duration) (domain.Session, error) {
	if userID == "" {
		return domain.Session{}, errors.New("session: user id required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	sess := domain.Session{
		Token:     uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *memoryStore) Get(ctx context.Context, token string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	if sess.Expired(time.Now()) {
		delete(s.sessions, token)
		return domain.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *memoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

func (s *memoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, token)
		}
	}
}

func (s *memoryStore) Close() {
	s.once.Do(func() {
		close(s.stopCh)
	})
}
