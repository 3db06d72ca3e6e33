// Package sessionstore persists upstream conversation ids so a restarted
// proxy can continue conversations instead of starting over.
package sessionstore

import (
	"context"
	"errors"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
)

// StoreType names a storage driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeBolt   StoreType = "bolt"
	StoreTypeRedis  StoreType = "redis"
)

var (
	ErrInvalidStoreType = errors.New("invalid session store type")
	ErrInvalidConfig    = errors.New("invalid session store configuration")
	ErrUnsupported      = errors.New("session store not supported on this platform")
)

// Record is the persisted state of one conversation.
type Record struct {
	Key         string                `json:"key"`
	Context     gemini.SessionContext `json:"context"`
	LastRequest time.Time             `json:"last_request"`
	Turns       int                   `json:"turns"`
	History     []gemini.HistoryEntry `json:"history,omitempty"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Store is implemented by every driver. Load returns nil, nil for unknown
// keys.
type Store interface {
	Load(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// StoreOption is a functional option for configuring a store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	boltPath string
	ttl      time.Duration
	redis    redisConfig
}

// WithBoltPath sets the database file for the bolt driver.
func WithBoltPath(path string) StoreOption {
	return func(c *storeConfig) {
		c.boltPath = path
	}
}

// WithTTL bounds how long a record lives without being saved again. Only
// the redis driver enforces it.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// New creates a Store of the given type.
func New(storeType StoreType, opts ...StoreOption) (Store, error) {
	cfg := &storeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeBolt:
		if cfg.boltPath == "" {
			return nil, ErrInvalidConfig
		}
		return newBoltStore(cfg.boltPath)
	case StoreTypeRedis:
		return newRedisStore(cfg)
	default:
		return nil, ErrInvalidStoreType
	}
}
