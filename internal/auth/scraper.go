package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
	"github.com/rs/zerolog"
)

// ErrTokenNotFound means the app page carried no at token, which happens when
// the cookies no longer represent a signed-in session.
var ErrTokenNotFound = errors.New("no SNlM0e token on page, cookies are likely expired")

var (
	atTokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`"SNlM0e":"([^"]+)"`),
		regexp.MustCompile(`SNlM0e["\s:]+["']([^"']+)["']`),
		regexp.MustCompile(`"at":"([^"]+)"`),
	}
	pushIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"push[_-]?id["\s:]+["'](feeds/[a-z0-9]+)["']`),
		regexp.MustCompile(`(?i)push[_-]?id["\s:=]+["'](feeds/[a-z0-9]+)["']`),
		regexp.MustCompile(`(?i)feedName["\s:]+["'](feeds/[a-z0-9]+)["']`),
		regexp.MustCompile(`(?i)clientId["\s:]+["'](feeds/[a-z0-9]+)["']`),
		regexp.MustCompile(`(?i)(feeds/[a-z0-9]{14,})`),
	}
	buildLabelPattern = regexp.MustCompile(`"cfb2h":"([^"]+)"`)
	modelNamePattern  = regexp.MustCompile(`(?i)["'](gemini-[a-z0-9.\-]+)["']`)
	modelIDPattern    = regexp.MustCompile(`(?i)\["([a-f0-9]{16})","(gemini[^"]*(?:flash|pro|thinking)[^"]*)"\]`)
)

// PageTokens are the values embedded in the signed-in app page.
type PageTokens struct {
	AtToken    string
	PushID     string
	BuildLabel string
	Models     []string

	// ModelIDs maps flash/pro/thinking to the opaque header ids.
	ModelIDs map[string]string
}

// ExtractPageTokens pulls tokens out of the app page HTML. Missing values
// stay empty.
func ExtractPageTokens(html string) PageTokens {
	var t PageTokens
	t.AtToken = firstMatch(html, atTokenPatterns)
	t.PushID = firstMatch(html, pushIDPatterns)
	if m := buildLabelPattern.FindStringSubmatch(html); m != nil {
		t.BuildLabel = m[1]
	}

	seen := make(map[string]bool)
	for _, m := range modelNamePattern.FindAllStringSubmatch(html, -1) {
		name := m[1]
		lower := strings.ToLower(name)
		if seen[name] || !containsAny(lower, "flash", "pro", "ultra", "nano") {
			continue
		}
		seen[name] = true
		t.Models = append(t.Models, name)
	}
	sort.Strings(t.Models)

	for _, m := range modelIDPattern.FindAllStringSubmatch(html, -1) {
		variant := gemini.SelectVariant(m[2]).String()
		if t.ModelIDs == nil {
			t.ModelIDs = make(map[string]string)
		}
		if _, ok := t.ModelIDs[variant]; !ok {
			t.ModelIDs[variant] = m[1]
		}
	}
	return t
}

func firstMatch(s string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(s); m != nil {
			return m[1]
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Scraper loads the app page with session cookies to discover tokens.
type Scraper struct {
	client  gemini.HTTPClient
	baseURL string
	logger  zerolog.Logger
}

func NewScraper(client gemini.HTTPClient, baseURL string, logger zerolog.Logger) *Scraper {
	return &Scraper{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

func (s *Scraper) Scrape(ctx context.Context, cookies map[string]string) (*PageTokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/app", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")

	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.AddCookie(&http.Cookie{Name: name, Value: cookies[name]})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch app page: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read app page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("app page returned HTTP %d: %s", resp.StatusCode, logger.Preview(string(body), 200))
	}

	tokens := ExtractPageTokens(string(body))
	if tokens.AtToken == "" {
		return nil, ErrTokenNotFound
	}

	s.logger.Debug().
		Str("at", logger.Redact(tokens.AtToken)).
		Str("push_id", tokens.PushID).
		Str("bl", tokens.BuildLabel).
		Int("models", len(tokens.Models)).
		Msg("scraped page tokens")
	return &tokens, nil
}
