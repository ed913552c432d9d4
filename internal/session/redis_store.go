package session

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/dkoval/todolist/internal/domain"
)

type redisStore struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisStore constructs a Redis backed session store so sessions survive
// restarts and are shared across instances.
func NewRedisStore(addr, password string, db int, logger *slog.Logger) (Store, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisStore{
		client:  client,
		logger:  logger,
		prefix:  "todolist:session:",
		timeout: 250 * time.Millisecond,
	}, nil
}

func (s *redisStore) Create(ctx context.Context, userID string, ttl time.Duration) (domain.Session, error) {
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
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Set(opCtx, s.prefix+sess.Token, sess.UserID, ttl).Err(); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

func (s *redisStore) Get(ctx context.Context, token string) (domain.Session, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	key := s.prefix + token
	userID, err := s.client.Get(opCtx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, ErrNotFound
		}
		return domain.Session{}, err
	}
	ttl, err := s.client.TTL(opCtx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = 0
	}
	return domain.Session{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

func (s *redisStore) Delete(ctx context.Context, token string) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.client.Del(opCtx, s.prefix+token).Err()
}

func (s *redisStore) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *redisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}
