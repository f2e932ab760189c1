package course

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"coursecart/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned by the cache layer when a key is absent.
var ErrCacheMiss = errors.New("cache miss")

// Cached is a read-through Redis decorator for catalog lookups. Concurrent
// misses for the same course collapse into one database read. Redis errors
// degrade to the underlying repository.
type Cached struct {
	next    Repository
	client  *redis.Client
	baseTTL time.Duration
	logger  *zap.Logger
	sfg     singleflight.Group
}

func NewCached(next Repository, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cached{
		next:    next,
		client:  client,
		baseTTL: ttl,
		logger:  logger.Named("course_cache"),
	}
}

// WithCache puts a Cached in front of next when redisURL is set. Writers such
// as the seed and import tools must go through it so Upsert evicts the key.
// An empty URL returns next unchanged.
func WithCache(next Repository, redisURL string, ttl time.Duration, logger *zap.Logger) (Repository, func() error, error) {
	if redisURL == "" {
		return next, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return NewCached(next, client, ttl, logger), client.Close, nil
}

func (c *Cached) List(ctx context.Context) ([]domain.Course, error) {
	return c.next.List(ctx)
}

func (c *Cached) GetByID(ctx context.Context, id string) (*domain.Course, error) {
	cached, err := c.get(ctx, id)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("cache get failed", zap.String("course_id", id), zap.Error(err))
	}

	v, err, _ := c.sfg.Do(id, func() (any, error) {
		course, err := c.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := c.set(ctx, course); err != nil {
			c.logger.Warn("cache set failed", zap.String("course_id", id), zap.Error(err))
		}
		return course, nil
	})
	if err != nil {
		return nil, err
	}
	course := *v.(*domain.Course)
	return &course, nil
}

func (c *Cached) Upsert(ctx context.Context, course domain.Course) (*domain.Course, error) {
	out, err := c.next.Upsert(ctx, course)
	if err != nil {
		return nil, err
	}
	if err := c.client.Del(ctx, cacheKey(out.ID)).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.String("course_id", out.ID), zap.Error(err))
	}
	return out, nil
}

func (c *Cached) get(ctx context.Context, id string) (*domain.Course, error) {
	data, err := c.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var course domain.Course
	if err := json.Unmarshal(data, &course); err != nil {
		return nil, fmt.Errorf("unmarshal course failed: %w", err)
	}
	return &course, nil
}

func (c *Cached) set(ctx context.Context, course *domain.Course) error {
	data, err := json.Marshal(course)
	if err != nil {
		return fmt.Errorf("marshal course failed: %w", err)
	}
	jitter := time.Duration(rand.Int64N(int64(c.baseTTL)/5 + 1))
	if err := c.client.Set(ctx, cacheKey(course.ID), data, c.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func cacheKey(id string) string {
	return fmt.Sprintf("course:%s", id)
}
