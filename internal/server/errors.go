package server

import (
	"errors"
	"net/http"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
)

// classifyError maps a Submit failure onto an HTTP status and OpenAI error
// type and code.
func classifyError(err error) (int, string, string) {
	var (
		httpErr      *gemini.UpstreamHTTPError
		transientErr *gemini.TransientNetworkError
	)
	switch {
	case errors.Is(err, gemini.ErrEmptyTurn):
		return http.StatusBadRequest, "invalid_request_error", "empty_message"
	case errors.Is(err, gemini.ErrAuthExpired):
		return http.StatusUnauthorized, "authentication_error", "credentials_expired"
	case errors.As(err, &httpErr):
		return http.StatusBadGateway, "upstream_error", "upstream_http_error"
	case errors.As(err, &transientErr):
		return http.StatusServiceUnavailable, "upstream_unavailable", "network_error"
	default:
		return http.StatusInternalServerError, "server_error", "internal_error"
	}
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	status, errType, code := classifyError(err)
	event := s.logger.Error()
	if status < http.StatusInternalServerError {
		event = s.logger.Warn()
	}
	event.Err(err).Int("status", status).Str("type", errType).Msg("❌ Chat completion failed")
	s.writeAPIError(w, status, err.Error(), errType, code)
}

func (s *Server) writeAPIError(w http.ResponseWriter, status int, message, errType, code string) {
	s.writeJSON(w, status, apiErrorResponse{Error: apiError{
		Message: message,
		Type:    errType,
		Code:    code,
	}})
}
