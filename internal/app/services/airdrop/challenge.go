package airdrop

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	domain "github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
)

// ChallengeStore keeps issued claim challenges until they expire or are used.
type ChallengeStore interface {
	Put(ctx context.Context, c domain.Challenge) error
	// Get returns false for unknown or expired nonces.
	Get(ctx context.Context, nonce string) (domain.Challenge, bool, error)
	// Consume removes the nonce and reports whether it was still present.
	// Exactly one of several concurrent callers sees true.
	Consume(ctx context.Context, nonce string) (bool, error)
}

func challengeKey(nonce string) string {
	return "audit:airdrop:challenge:" + nonce
}

// MemoryChallenges is a process-local ChallengeStore.
type MemoryChallenges struct {
	now func() time.Time

	mu         sync.Mutex
	challenges map[string]domain.Challenge
}

func NewMemoryChallenges() *MemoryChallenges {
	return &MemoryChallenges{now: time.Now, challenges: make(map[string]domain.Challenge)}
}

func (m *MemoryChallenges) Put(_ context.Context, c domain.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenges[c.Nonce] = c
	return nil
}

func (m *MemoryChallenges) Get(_ context.Context, nonce string) (domain.Challenge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.liveLocked(nonce)
	return c, ok, nil
}

func (m *MemoryChallenges) Consume(_ context.Context, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.liveLocked(nonce)
	delete(m.challenges, nonce)
	return ok, nil
}

func (m *MemoryChallenges) liveLocked(nonce string) (domain.Challenge, bool) {
	c, ok := m.challenges[nonce]
	if !ok {
		return domain.Challenge{}, false
	}
	if c.Expired(m.now()) {
		delete(m.challenges, nonce)
		return domain.Challenge{}, false
	}
	return c, true
}

// ChallengeRedisClient is the subset of redis.Cmdable used by RedisChallenges.
type ChallengeRedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisChallenges shares challenges across replicas. Keys expire with the
// challenge so Redis does the cleanup.
type RedisChallenges struct {
	client ChallengeRedisClient
}

func NewRedisChallenges(client ChallengeRedisClient) *RedisChallenges {
	return &RedisChallenges{client: client}
}

func (r *RedisChallenges) Put(ctx context.Context, c domain.Challenge) error {
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		return errors.New("challenge already expired")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, challengeKey(c.Nonce), raw, ttl).Err()
}

func (r *RedisChallenges) Get(ctx context.Context, nonce string) (domain.Challenge, bool, error) {
	raw, err := r.client.Get(ctx, challengeKey(nonce)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Challenge{}, false, nil
	}
	if err != nil {
		return domain.Challenge{}, false, err
	}
	var c domain.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.Challenge{}, false, err
	}
	if c.Expired(time.Now()) {
		return domain.Challenge{}, false, nil
	}
	return c, true, nil
}

func (r *RedisChallenges) Consume(ctx context.Context, nonce string) (bool, error) {
	n, err := r.client.Del(ctx, challengeKey(nonce)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
