package credentials

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const (
	CookieSecure1PSID   = "__Secure-1PSID"
	CookieSecure1PSIDTS = "__Secure-1PSIDTS"
)

// KnownCookies lists the cookies the web client sends; anything else in a
// pasted cookie string is kept but not reported.
var KnownCookies = []string{
	CookieSecure1PSID,
	CookieSecure1PSIDTS,
	"__Secure-1PAPISID",
	"SAPISID",
	"SID",
	"HSID",
	"SSID",
	"APISID",
}

var (
	ErrMissingSessionCookie = errors.New("missing " + CookieSecure1PSID + " cookie")
	ErrMissingAtToken       = errors.New("missing SNlM0e (at) token")
)

// Credentials are the browser session values the upstream accepts.
type Credentials struct {
	Cookies    map[string]string `json:"cookies"`
	AtToken    string            `json:"at_token"`
	PushID     string            `json:"push_id,omitempty"`
	BuildLabel string            `json:"build_label,omitempty"`
	ModelIDs   map[string]string `json:"model_ids,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// ParseCookieString splits a "name=value; name2=value2" header into a map.
// Values keep any '=' after the first one.
func ParseCookieString(s string) map[string]string {
	out := make(map[string]string)
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		name, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// Validate reports the first missing value required for a chat request.
func (c *Credentials) Validate() error {
	if c == nil || c.Cookies[CookieSecure1PSID] == "" {
		return ErrMissingSessionCookie
	}
	if c.AtToken == "" {
		return ErrMissingAtToken
	}
	return nil
}

// CookieNames returns the sorted cookie names present.
func (c *Credentials) CookieNames() []string {
	names := make([]string, 0, len(c.Cookies))
	for name := range c.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	out := *c
	out.Cookies = make(map[string]string, len(c.Cookies))
	for k, v := range c.Cookies {
		out.Cookies[k] = v
	}
	if c.ModelIDs != nil {
		out.ModelIDs = make(map[string]string, len(c.ModelIDs))
		for k, v := range c.ModelIDs {
			out.ModelIDs[k] = v
		}
	}
	return &out
}
