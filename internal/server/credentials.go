package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/auth"
	"github.com/dvcrn/gemini-web-proxy/internal/credentials"
	"github.com/dvcrn/gemini-web-proxy/internal/logger"
)

const credentialsScrapeTimeout = 30 * time.Second

// credentialsHandler handles POST /admin/credentials
func (s *Server) credentialsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	store, ok := s.credsFetcher.(credentials.CredentialsStore)
	if !ok {
		s.logger.Error().Msg("Credentials fetcher is read-only")
		http.Error(w, "Credential updates not supported by current credential fetcher", http.StatusBadRequest)
		return
	}

	var reqBody credentialsUpdate
	if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
		s.logger.Error().Err(err).Msg("Failed to parse request body")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	cookies := credentials.ParseCookieString(reqBody.Cookie)
	if cookies[credentials.CookieSecure1PSID] == "" {
		http.Error(w, "Missing required field: cookie (must contain "+credentials.CookieSecure1PSID+")", http.StatusBadRequest)
		return
	}

	creds := &credentials.Credentials{
		Cookies:    cookies,
		AtToken:    strings.TrimSpace(reqBody.AtToken),
		PushID:     strings.TrimSpace(reqBody.PushID),
		BuildLabel: strings.TrimSpace(reqBody.BuildLabel),
		UpdatedAt:  s.now(),
	}

	if creds.AtToken == "" || creds.PushID == "" {
		ctx, cancel := context.WithTimeout(r.Context(), credentialsScrapeTimeout)
		defer cancel()

		scraper := auth.NewScraper(s.httpClient, s.cfg.Upstream.BaseURL, s.logger)
		tokens, err := scraper.Scrape(ctx, cookies)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to discover tokens for new credentials")
			if creds.AtToken == "" {
				http.Error(w, "Could not obtain SNlM0e token: "+err.Error(), http.StatusBadRequest)
				return
			}
		} else {
			fillFromTokens(creds, tokens)
		}
	}

	if err := creds.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := store.UpdateCredentials(creds); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update credentials")
		http.Error(w, "Failed to update credentials", http.StatusInternalServerError)
		return
	}

	reset := s.conversations.resetAll(r.Context())
	s.logger.Info().
		Strs("cookies", creds.CookieNames()).
		Str("at_token", logger.Redact(creds.AtToken)).
		Int("conversations_reset", reset).
		Msg("✅ Credentials updated successfully")

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"message":  "Credentials updated successfully",
		"at_token": logger.Redact(creds.AtToken),
		"push_id":  creds.PushID,
	})
}

// credentialsRefreshHandler handles POST /admin/credentials/refresh
func (s *Server) credentialsRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := s.credsFetcher.RefreshCredentials(); err != nil {
		s.logger.Error().Err(err).Msg("❌ Credentials refresh failed")
		s.writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Credentials refreshed",
	})
}

// credentialsStatusHandler handles GET /admin/credentials/status
func (s *Server) credentialsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_, writable := s.credsFetcher.(credentials.CredentialsStore)
	creds, err := s.credsFetcher.GetCredentials()
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"hasCredentials": false,
			"writable":       writable,
			"error":          err.Error(),
		})
		return
	}

	response := map[string]interface{}{
		"hasCredentials": true,
		"writable":       writable,
		"cookies":        creds.CookieNames(),
		"atToken":        logger.Redact(creds.AtToken),
		"pushID":         creds.PushID,
		"buildLabel":     creds.BuildLabel,
		"valid":          creds.Validate() == nil,
	}
	if !creds.UpdatedAt.IsZero() {
		response["updatedAt"] = creds.UpdatedAt.Unix()
	}
	if err := creds.Validate(); err != nil {
		response["error"] = err.Error()
	}
	s.writeJSON(w, http.StatusOK, response)
}

func fillFromTokens(creds *credentials.Credentials, tokens *auth.PageTokens) {
	if creds.AtToken == "" {
		creds.AtToken = tokens.AtToken
	}
	if creds.PushID == "" {
		creds.PushID = tokens.PushID
	}
	if creds.BuildLabel == "" {
		creds.BuildLabel = tokens.BuildLabel
	}
	if len(tokens.ModelIDs) > 0 {
		creds.ModelIDs = tokens.ModelIDs
	}
}
