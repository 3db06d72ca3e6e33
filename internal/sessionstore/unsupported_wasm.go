//go:build js && wasm

package sessionstore

type redisConfig struct{}

func newBoltStore(string) (Store, error) {
	return nil, ErrUnsupported
}

func newRedisStore(*storeConfig) (Store, error) {
	return nil, ErrUnsupported
}
