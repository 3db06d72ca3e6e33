//go:build !js || !wasm

package credentials

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	keychainService = "gemini-web-proxy"
	keychainAccount = "credentials"
)

// KeychainCredentialsFetcher keeps credentials in the macOS keychain and
// caches the decoded value for cacheTTL.
type KeychainCredentialsFetcher struct {
	mu          sync.RWMutex
	cached      *Credentials
	lastRefresh time.Time
	cacheTTL    time.Duration
	logger      *zerolog.Logger

	// run executes the security CLI; replaced in tests.
	run func(args ...string) ([]byte, error)
}

// NewKeychainCredentialsFetcher creates a new keychain-based credentials fetcher
func NewKeychainCredentialsFetcher(logger zerolog.Logger) *KeychainCredentialsFetcher {
	return &KeychainCredentialsFetcher{
		cacheTTL: 5 * time.Minute,
		logger:   &logger,
		run: func(args ...string) ([]byte, error) {
			return exec.Command("security", args...).Output()
		},
	}
}

// GetCredentials retrieves credentials from cache or keychain
func (k *KeychainCredentialsFetcher) GetCredentials() (*Credentials, error) {
	k.mu.RLock()
	if k.cached != nil && time.Since(k.lastRefresh) < k.cacheTTL {
		creds := k.cached.Clone()
		k.mu.RUnlock()
		return creds, nil
	}
	k.mu.RUnlock()
	return k.refreshAndGet()
}

// RefreshCredentials forces a fresh read from the keychain
func (k *KeychainCredentialsFetcher) RefreshCredentials() error {
	_, err := k.refreshAndGet()
	return err
}

// UpdateCredentials replaces the keychain item.
func (k *KeychainCredentialsFetcher) UpdateCredentials(creds *Credentials) error {
	out := creds.Clone()
	out.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if _, err := k.run("add-generic-password", "-s", keychainService, "-a", keychainAccount, "-w", string(data), "-U"); err != nil {
		return fmt.Errorf("failed to update keychain: %w", err)
	}

	k.mu.Lock()
	k.cached = out
	k.lastRefresh = time.Now()
	k.mu.Unlock()
	return nil
}

func (k *KeychainCredentialsFetcher) refreshAndGet() (*Credentials, error) {
	output, err := k.run("find-generic-password", "-s", keychainService, "-a", keychainAccount, "-w")
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve credentials from keychain: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(output))), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse JSON from keychain: %w", err)
	}
	if creds.Cookies == nil {
		creds.Cookies = map[string]string{}
	}

	k.mu.Lock()
	k.cached = &creds
	k.lastRefresh = time.Now()
	k.mu.Unlock()

	if k.logger != nil {
		k.logger.Debug().Int("cookies", len(creds.Cookies)).Msg("Loaded credentials from keychain")
	}
	return creds.Clone(), nil
}
