package credentials

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FSCredentialsFetcher keeps credentials in a JSON file.
type FSCredentialsFetcher struct {
	Path string
}

func NewFSCredentialsFetcher(path string) *FSCredentialsFetcher {
	return &FSCredentialsFetcher{Path: path}
}

func (f *FSCredentialsFetcher) GetCredentials() (*Credentials, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if c.Cookies == nil {
		c.Cookies = map[string]string{}
	}
	return &c, nil
}

func (f *FSCredentialsFetcher) RefreshCredentials() error {
	return nil
}

// UpdateCredentials replaces the file contents.
func (f *FSCredentialsFetcher) UpdateCredentials(creds *Credentials) error {
	return writeCredentialsFile(f.Path, creds)
}

// InitFromCookie writes a fresh credentials file holding the parsed cookie
// string, keeping any tokens an existing file already has.
func InitFromCookie(path, cookie string) error {
	creds := &Credentials{}
	if FileExists(path) {
		existing, err := NewFSCredentialsFetcher(path).GetCredentials()
		if err == nil {
			creds = existing
		}
	}
	creds.Cookies = ParseCookieString(cookie)
	return writeCredentialsFile(path, creds)
}

func writeCredentialsFile(path string, creds *Credentials) error {
	if err := EnsureParentDir(path); err != nil {
		return err
	}
	out := creds.Clone()
	out.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}
