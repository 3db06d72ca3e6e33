//go:build js && wasm

package credentials

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syumai/workers/cloudflare/kv"
)

const (
	kvNamespace = "gemini_web_proxy_kv"
	kvKey       = "gemini_web_credentials"
)

// CloudflareKVFetcher retrieves credentials from Cloudflare KV
type CloudflareKVFetcher struct {
	kvStore *kv.Namespace
}

// NewCloudflareKVFetcher creates a new Cloudflare KV-based credentials fetcher
func NewCloudflareKVFetcher() (*CloudflareKVFetcher, error) {
	// The binding name is configured in wrangler.toml
	kvStore, err := kv.NewNamespace(kvNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &CloudflareKVFetcher{kvStore: kvStore}, nil
}

// GetCredentials retrieves credentials from Cloudflare KV
func (c *CloudflareKVFetcher) GetCredentials() (*Credentials, error) {
	credsJSON, err := c.kvStore.GetString(kvKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from KV: %w", err)
	}
	if credsJSON == "" {
		return nil, fmt.Errorf("no credentials found in KV")
	}

	var creds Credentials
	if err := json.Unmarshal([]byte(credsJSON), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}
	if creds.Cookies == nil {
		creds.Cookies = map[string]string{}
	}
	return &creds, nil
}

// UpdateCredentials stores credentials in Cloudflare KV
func (c *CloudflareKVFetcher) UpdateCredentials(creds *Credentials) error {
	out := creds.Clone()
	out.UpdatedAt = time.Now().UTC()

	credsJSON, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := c.kvStore.PutString(kvKey, string(credsJSON), nil); err != nil {
		return fmt.Errorf("failed to store credentials in KV: %w", err)
	}
	return nil
}

// RefreshCredentials is a no-op; token scraping is handled by auth.TokenRefresher
func (c *CloudflareKVFetcher) RefreshCredentials() error {
	return nil
}
