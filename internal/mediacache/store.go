// Package mediacache keeps downloaded generated media on disk so it can be
// served back to API clients under /media/{id}.
package mediacache

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("media not found")

var idPattern = regexp.MustCompile(`^gen_[0-9a-f]{16}$`)

// extensions are tried in order when looking up an id.
var extensions = []string{"png", "jpg", "jpeg", "gif", "webp", "mp4"}

type Store struct {
	dir    string
	logger zerolog.Logger
}

func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media cache dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// ValidID reports whether id has the generated gen_<16 hex> form. Anything
// else is rejected before touching the filesystem.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Put writes data as {id}.{ext}. The write goes through a temp file so
// readers never see a partial file.
func (s *Store) Put(id, ext string, data []byte) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid media id %q", id)
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if !knownExtension(ext) {
		return fmt.Errorf("unsupported media extension %q", ext)
	}

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, id+"."+ext))
}

// Open returns the file for id along with its content type.
func (s *Store) Open(id string) (*os.File, string, error) {
	if !ValidID(id) {
		return nil, "", ErrNotFound
	}
	for _, ext := range extensions {
		f, err := os.Open(filepath.Join(s.dir, id+"."+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return f, contentType(ext), nil
	}
	return nil, "", ErrNotFound
}

// Sweep removes media older than maxAge and returns how many files went.
func (s *Store) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("failed to remove expired media")
			continue
		}
		removed++
	}
	return removed, nil
}

func knownExtension(ext string) bool {
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func contentType(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "mp4":
		return "video/mp4"
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
