package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvcrn/gemini-web-proxy/internal/mediacache"
)

// mediaHandler handles GET /media/{id}
func (s *Server) mediaHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/media/")
	if !mediacache.ValidID(id) {
		http.Error(w, "Invalid media id", http.StatusBadRequest)
		return
	}
	if s.media == nil {
		http.NotFound(w, r)
		return
	}

	f, contentType, err := s.media.Open(id)
	if errors.Is(err, mediacache.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("Failed to open cached media")
		http.Error(w, "Failed to read media", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Msg("Failed to stat cached media")
		http.Error(w, "Failed to read media", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
