package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mmair/models"

	"github.com/redis/go-redis/v9"
)

// DedupGuard remembers recently alerted (user, device) pairs locally. The
// backend notification log stays authoritative; the guard covers alerts whose
// log write failed.
type DedupGuard interface {
	Recent(ctx context.Context, userID, deviceID models.ID) (bool, error)
	Mark(ctx context.Context, userID, deviceID models.ID) error
}

func dedupKey(userID, deviceID models.ID) string {
	return fmt.Sprintf("mmair:alerted:%s:%s", userID, deviceID)
}

// MemoryGuard keeps marks in process memory.
type MemoryGuard struct {
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	marks map[string]time.Time
}

func NewMemoryGuard(window time.Duration) *MemoryGuard {
	return &MemoryGuard{
		window: window,
		now:    time.Now,
		marks:  make(map[string]time.Time),
	}
}

func (g *MemoryGuard) Recent(_ context.Context, userID, deviceID models.ID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := dedupKey(userID, deviceID)
	markedAt, ok := g.marks[key]
	if !ok {
		return false, nil
	}
	if g.now().Sub(markedAt) >= g.window {
		delete(g.marks, key)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGuard) Mark(_ context.Context, userID, deviceID models.ID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.marks[dedupKey(userID, deviceID)] = now

	// Drop expired marks so the map stays bounded by the active alert set.
	for key, markedAt := range g.marks {
		if now.Sub(markedAt) >= g.window {
			delete(g.marks, key)
		}
	}
	return nil
}

// RedisGuard shares marks between monitor replicas through Redis key expiry.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

// NewRedisGuard connects to addr and verifies the connection.
func NewRedisGuard(ctx context.Context, addr, password string, db int, window time.Duration) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis is not reachable: %w", err)
	}
	return &RedisGuard{client: client, window: window}, nil
}

func (g *RedisGuard) Recent(ctx context.Context, userID, deviceID models.ID) (bool, error) {
	n, err := g.client.Exists(ctx, dedupKey(userID, deviceID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Mark(ctx context.Context, userID, deviceID models.ID) error {
	if err := g.client.Set(ctx, dedupKey(userID, deviceID), time.Now().Unix(), g.window).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (g *RedisGuard) Close() error {
	return g.client.Close()
}
