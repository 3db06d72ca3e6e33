package credentials

import (
	"os"
)

// EnvCredentialsFetcher retrieves credentials from environment variables
type EnvCredentialsFetcher struct{}

// NewEnvCredentialsFetcher creates a new environment-based credentials fetcher
func NewEnvCredentialsFetcher() *EnvCredentialsFetcher {
	return &EnvCredentialsFetcher{}
}

// GetCredentials builds credentials from GEMINI_COOKIE plus the individual
// GEMINI_SECURE_1PSID / GEMINI_SECURE_1PSIDTS overrides and token variables.
func (e *EnvCredentialsFetcher) GetCredentials() (*Credentials, error) {
	cookies := ParseCookieString(os.Getenv("GEMINI_COOKIE"))
	if v := os.Getenv("GEMINI_SECURE_1PSID"); v != "" {
		cookies[CookieSecure1PSID] = v
	}
	if v := os.Getenv("GEMINI_SECURE_1PSIDTS"); v != "" {
		cookies[CookieSecure1PSIDTS] = v
	}
	return &Credentials{
		Cookies:    cookies,
		AtToken:    os.Getenv("GEMINI_AT_TOKEN"),
		PushID:     os.Getenv("GEMINI_PUSH_ID"),
		BuildLabel: os.Getenv("GEMINI_BUILD_LABEL"),
	}, nil
}

// RefreshCredentials is a no-op for environment credentials
func (e *EnvCredentialsFetcher) RefreshCredentials() error {
	return nil
}
