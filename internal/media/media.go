package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxUploadSize bounds a single uploaded image.
const MaxUploadSize = 8 << 20 // 8 MiB

var allowedExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
}

// ErrUnsupportedType is returned for uploads with an extension outside the
// image whitelist.
var ErrUnsupportedType = errors.New("unsupported file type")

// Store writes uploaded images to a flat directory. File names embed the
// upload timestamp so retention sweeps need no metadata database.
type Store struct {
	dir string
	log *zerolog.Logger
}

// NewStore creates the media directory if needed.
func NewStore(dir string, logger *zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Dir returns the directory served under /media.
func (s *Store) Dir() string { return s.dir }

// Save streams an upload to disk and returns the public URL path.
func (s *Store) Save(r io.Reader, originalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if _, ok := allowedExts[ext]; !ok {
		return "", ErrUnsupportedType
	}

	name := fmt.Sprintf("%d_%s%s", time.Now().Unix(), uuid.NewString()[:8], ext)
	path := filepath.Join(s.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(r, MaxUploadSize)); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write media file: %w", err)
	}
	return "/media/" + name, nil
}

// Sweep deletes files older than maxAge, judged by the timestamp prefix of
// the file name. Files without the prefix are left alone.
func (s *Store) Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge).Unix()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn().Err(err).Msg("media sweep: read dir failed")
		return
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			continue
		}
		ts, err := strconv.ParseInt(name[:idx], 10, 64)
		if err != nil {
			continue
		}
		if ts >= cutoff {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("media sweep: remove failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("media sweep complete")
	}
}
