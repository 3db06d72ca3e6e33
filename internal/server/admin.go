package server

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errMissingToken    = errors.New("missing Authorization or X-API-Key header")
	errMalformedBearer = errors.New("invalid Authorization header format")
)

// providedToken reads the key from either 'Authorization: Bearer <key>' or
// 'X-API-Key: <key>'.
func providedToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Expect "Bearer <token>" format, case-insensitive
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", errMalformedBearer
		}
		return parts[1], nil
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, nil
	}
	return "", errMissingToken
}

func tokenMatches(provided, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// adminMiddleware checks for valid admin API key from either
// 'Authorization: Bearer <key>' or 'X-API-Key: <key>' headers.
func (s *Server) adminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminKey := s.cfg.Server.AdminAPIKey
		if adminKey == "" {
			s.logger.Error().Msg("Admin API key not configured")
			http.Error(w, "Admin API not configured", http.StatusInternalServerError)
			return
		}

		token, err := providedToken(r)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rejected admin request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if !tokenMatches(token, adminKey) {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Invalid admin API key provided")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		s.logger.Info().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote_addr", r.RemoteAddr).
			Msg("Admin request authorized")

		next(w, r)
	}
}

// apiKeyMiddleware guards the OpenAI-compatible routes. With no key
// configured every request is let through.
func (s *Server) apiKeyMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := s.cfg.Server.APIKey
		if apiKey == "" {
			next(w, r)
			return
		}

		token, err := providedToken(r)
		if err != nil || !tokenMatches(token, apiKey) {
			s.logger.Warn().
				Str("method", r.Method).
				Str("uri", r.RequestURI).
				Str("remote_addr", r.RemoteAddr).
				Msg("Invalid API key provided")
			s.writeAPIError(w, http.StatusUnauthorized, "Invalid API key", "authentication_error", "invalid_api_key")
			return
		}

		next(w, r)
	}
}
