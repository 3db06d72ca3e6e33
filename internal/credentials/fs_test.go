package credentials

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFSCredentialsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	fetcher := NewFSCredentialsFetcher(path)

	if _, err := fetcher.GetCredentials(); err == nil {
		t.Fatal("Expected error reading a missing file")
	}

	want := &Credentials{
		Cookies:    map[string]string{CookieSecure1PSID: "g.a000", CookieSecure1PSIDTS: "ts"},
		AtToken:    "at",
		PushID:     "feeds/abcdefghijklmnop",
		BuildLabel: "boq_test",
	}
	if err := fetcher.UpdateCredentials(want); err != nil {
		t.Fatalf("UpdateCredentials failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat created file: %v", err)
	}
	if info.Mode().Perm() != os.FileMode(0600) {
		t.Errorf("Expected file permissions 0600, got %v", info.Mode().Perm())
	}

	got, err := fetcher.GetCredentials()
	if err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
	if got.AtToken != want.AtToken || got.PushID != want.PushID || got.BuildLabel != want.BuildLabel {
		t.Errorf("Token mismatch: got %+v", got)
	}
	if got.Cookies[CookieSecure1PSID] != "g.a000" {
		t.Errorf("Cookie mismatch: got %v", got.Cookies)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be stamped")
	}
}

func TestInitFromCookieKeepsTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deeply", "nested", "credentials.json")

	if err := NewFSCredentialsFetcher(path).UpdateCredentials(&Credentials{
		Cookies: map[string]string{"SID": "old"},
		AtToken: "kept-token",
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := InitFromCookie(path, "__Secure-1PSID=new; __Secure-1PSIDTS=ts"); err != nil {
		t.Fatalf("InitFromCookie failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read created file: %v", err)
	}
	var stored Credentials
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("Failed to parse created JSON: %v", err)
	}
	if stored.AtToken != "kept-token" {
		t.Errorf("Expected at token to survive, got %q", stored.AtToken)
	}
	if _, ok := stored.Cookies["SID"]; ok {
		t.Error("Expected old cookies to be replaced")
	}
	if stored.Cookies[CookieSecure1PSID] != "new" {
		t.Errorf("Expected new session cookie, got %v", stored.Cookies)
	}

	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Parent directory was not created: %v", err)
	}
	if info.Mode().Perm() != os.FileMode(0700) {
		t.Errorf("Expected directory permissions 0700, got %v", info.Mode().Perm())
	}
}
