package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"queue-sync/src/clock"
	"queue-sync/src/interfaces"
	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/go-redis/redis/v8"
)

const previewPrefix = "queue-sync:preview:"

// PreviewKey identifies a preview by business, date and service set. The
// service order does not matter.
func PreviewKey(req models.MPreviewRequest) string {
	ids := models.NormalizeServiceIDs(req.ServiceIDs)
	return previewPrefix + req.BusinessID + ":" + req.Date + ":" + strings.Join(ids, ",")
}

// -----------------------------------------------------------------------------

// NewPreviewCache builds the cache named in the config.
func NewPreviewCache(cfg *models.MConfig, log *logger.Logger) (interfaces.IPreviewCache, error) {
	ttl := time.Duration(cfg.Cache.PreviewTTLSeconds) * time.Second

	switch cfg.Cache.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := client.Ping(ctx).Result(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		log.Info("Preview cache: redis at %s (ttl %s)", cfg.Cache.RedisAddr, ttl)
		return NewRedisPreviewCache(client, ttl), nil
	case "memory", "":
		log.Info("Preview cache: in-memory (ttl %s)", ttl)
		return NewMemoryPreviewCache(clock.Real(), ttl), nil
	}
	return nil, fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
}

// -----------------------------------------------------------------------------
// Redis
// -----------------------------------------------------------------------------

type RedisPreviewCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPreviewCache(client *redis.Client, ttl time.Duration) *RedisPreviewCache {
	return &RedisPreviewCache{client: client, ttl: ttl}
}

func (c *RedisPreviewCache) Get(ctx context.Context, req models.MPreviewRequest) (*models.MBookingPreview, error) {
	data, err := c.client.Get(ctx, PreviewKey(req)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p models.MBookingPreview
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *RedisPreviewCache) Set(ctx context.Context, req models.MPreviewRequest, p *models.MBookingPreview) error {
	if c.ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, PreviewKey(req), b, c.ttl).Err()
}

func (c *RedisPreviewCache) Close() error {
	return c.client.Close()
}

// -----------------------------------------------------------------------------
// Memory
// -----------------------------------------------------------------------------

type memoryEntry struct {
	preview models.MBookingPreview
	expires time.Time
}

// MemoryPreviewCache is a process-local TTL map. Expired entries are dropped
// lazily on read and on write.
type MemoryPreviewCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemoryPreviewCache(clk clock.Clock, ttl time.Duration) *MemoryPreviewCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryPreviewCache{clock: clk, ttl: ttl, entries: make(map[string]memoryEntry)}
}

func (c *MemoryPreviewCache) Get(_ context.Context, req models.MPreviewRequest) (*models.MBookingPreview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := PreviewKey(req)
	e, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		return nil, nil
	}
	p := e.preview
	p.Queues = append([]models.MQueueOption(nil), e.preview.Queues...)
	return &p, nil
}

func (c *MemoryPreviewCache) Set(_ context.Context, req models.MPreviewRequest, p *models.MBookingPreview) error {
	if c.ttl <= 0 || p == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}

	cp := *p
	cp.Queues = append([]models.MQueueOption(nil), p.Queues...)
	c.entries[PreviewKey(req)] = memoryEntry{preview: cp, expires: now.Add(c.ttl)}
	return nil
}

func (c *MemoryPreviewCache) Close() error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}
