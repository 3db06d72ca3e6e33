package credentials

// CredentialsFetcher defines the interface for retrieving credentials
type CredentialsFetcher interface {
	GetCredentials() (*Credentials, error)
	RefreshCredentials() error
}

// CredentialsStore extends CredentialsFetcher with write access, used by the
// admin endpoints and the token refresher.
type CredentialsStore interface {
	CredentialsFetcher
	UpdateCredentials(creds *Credentials) error
}
