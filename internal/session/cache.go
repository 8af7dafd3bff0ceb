package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecoveryCache stores one opaque snapshot per user. Load returns nil, nil
// when nothing is stored.
type RecoveryCache interface {
	Save(ctx context.Context, userID string, data []byte, ttl time.Duration) error
	Load(ctx context.Context, userID string) ([]byte, error)
	Clear(ctx context.Context, userID string) error
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileCache keeps snapshots as app_state_<user>.json files in one directory.
type FileCache struct {
	dir string
}

func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recovery dir: %w", err)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(userID string) string {
	return filepath.Join(c.dir, "app_state_"+unsafeChars.ReplaceAllString(userID, "_")+".json")
}

// Save writes through a temp file and rename so a crash never leaves half a snapshot.
func (c *FileCache) Save(_ context.Context, userID string, data []byte, _ time.Duration) error {
	tmp, err := os.CreateTemp(c.dir, ".app_state_*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path(userID))
}

func (c *FileCache) Load(_ context.Context, userID string) ([]byte, error) {
	b, err := os.ReadFile(c.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

func (c *FileCache) Clear(_ context.Context, userID string) error {
	err := os.Remove(c.path(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RedisCache keeps snapshots under recovery:<user> with the freshness window as TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "recovery:"}
}

func (c *RedisCache) Save(ctx context.Context, userID string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+userID, data, ttl).Err()
}

func (c *RedisCache) Load(ctx context.Context, userID string) ([]byte, error) {
	b, err := c.client.Get(ctx, c.prefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (c *RedisCache) Clear(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.prefix+userID).Err()
}
