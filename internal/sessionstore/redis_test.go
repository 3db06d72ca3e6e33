//go:build !js || !wasm

package sessionstore

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisStoreDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})

	s, err := New(StoreTypeRedis, WithRedisClient(client))
	require.NoError(t, err)
	defer s.Close()

	rs := s.(*RedisStore)
	assert.Equal(t, defaultTTL, rs.ttl)
	assert.Equal(t, "gemini-session:alice", rs.key("alice"))

	assert.Equal(t, time.Hour, NewRedisStore(client, time.Hour).ttl)
}
