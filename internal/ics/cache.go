package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-redis/redis/v8"

	appLog "freeslots/internal/log"
)

// ErrCacheMiss is returned by Cache.Load when nothing is stored for a URL.
var ErrCacheMiss = errors.New("ics cache miss")

// CacheEntry holds HTTP cache metadata for a single ICS URL.
type CacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache stores the last successful body of a feed alongside its validators.
type Cache interface {
	Load(ctx context.Context, url string) (CacheEntry, []byte, error)
	Save(ctx context.Context, meta CacheEntry, body []byte) error
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as key.
	return hex.EncodeToString(sum[:8])
}

// DiskCache keeps one directory per URL under Dir containing meta.json and
// body.ics, both 0600.
type DiskCache struct {
	Dir string
}

// NewDiskCache creates a disk cache rooted at dir.
//
// dir is the base directory where per-URL cache subdirectories and
// metadata will be stored. Example: "/var/lib/freeslots/ics-cache".
func NewDiskCache(dir string) *DiskCache {
	if dir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		dir = "./var/ics-cache"
	}
	return &DiskCache{Dir: dir}
}

func (c *DiskCache) pathFor(url string) string {
	return filepath.Join(c.Dir, cacheKey(url))
}

func (c *DiskCache) Load(_ context.Context, url string) (CacheEntry, []byte, error) {
	var meta CacheEntry
	cachePath := c.pathFor(url)

	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil, ErrCacheMiss
		}
		return meta, nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return CacheEntry{}, nil, err
	}

	body, err := os.ReadFile(filepath.Join(cachePath, "body.ics"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil, ErrCacheMiss
		}
		return meta, nil, err
	}
	return meta, body, nil
}

func (c *DiskCache) Save(_ context.Context, meta CacheEntry, body []byte) error {
	cachePath := c.pathFor(meta.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return err
	}

	// Write body first so meta never points at missing body.
	if err := writeFileAtomic(filepath.Join(cachePath, "body.ics"), body); err != nil {
		return err
	}

	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(cachePath, "meta.json"), data)
}

// writeFileAtomic replaces path with data via a temp file in the same
// directory, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Prune removes cache entries last updated more than maxAge ago, as well as
// directories whose metadata is missing or unreadable. It returns the
// number of removed entries.
func (c *DiskCache) Prune(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(c.Dir, e.Name())

		var meta CacheEntry
		data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
		if err == nil {
			err = json.Unmarshal(data, &meta)
		}
		if err == nil && now.Sub(meta.UpdatedAt) <= maxAge {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			appLog.Error("ics cache prune failed", err, "dir", dir)
			continue
		}
		removed++
	}
	return removed, nil
}

// RedisCache shares cached feeds between instances. Entries expire after TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

const (
	redisMetaPrefix = "ics:meta:"
	redisBodyPrefix = "ics:body:"
)

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context, url string) (CacheEntry, []byte, error) {
	var meta CacheEntry
	key := cacheKey(url)

	vals, err := c.client.MGet(ctx, redisMetaPrefix+key, redisBodyPrefix+key).Result()
	if err != nil {
		return meta, nil, err
	}
	rawMeta, ok1 := vals[0].(string)
	rawBody, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return meta, nil, ErrCacheMiss
	}
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return CacheEntry{}, nil, err
	}
	return meta, []byte(rawBody), nil
}

func (c *RedisCache) Save(ctx context.Context, meta CacheEntry, body []byte) error {
	key := cacheKey(meta.URL)
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisBodyPrefix+key, body, c.ttl)
		pipe.Set(ctx, redisMetaPrefix+key, b, c.ttl)
		return nil
	})
	return err
}
