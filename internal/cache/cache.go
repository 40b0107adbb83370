package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache defines the cache interface
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context, pattern string) error
	Close() error
}

// ErrCacheMiss is returned when a key is not found in cache
var ErrCacheMiss = fmt.Errorf("cache miss")

const keyPrefix = "dicomweb:"

// UIDKey generates the key under which the archive ID of a DICOM UID is
// cached. level is "study", "series" or "instance".
func UIDKey(level, uid string) string {
	return keyPrefix + level + ":" + uid
}

// UIDPattern matches every cached UID of a level, or of all levels when
// level is empty
func UIDPattern(level string) string {
	if level == "" {
		return keyPrefix + "*"
	}
	return keyPrefix + level + ":*"
}
