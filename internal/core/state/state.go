// Package state persists the sync cursor between runs as a small JSON file.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/log"
)

// CursorFile is the file name used for the bookmark cursor.
const CursorFile = "min_id.json"

// Cursor is the low-water-mark of the last successful sync.
type Cursor struct {
	MinID int64 `json:"min_id"`
}

// UnmarshalJSON accepts min_id as a number or as a numeric string, which is
// how Mastodon reports ids.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var raw struct {
		MinID json.RawMessage `json:"min_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.MinID) == 0 || bytes.Equal(raw.MinID, []byte("null")) {
		return errors.New("min_id missing")
	}

	text := raw.MinID
	if text[0] == '"' {
		var s string
		if err := json.Unmarshal(text, &s); err != nil {
			return err
		}
		text = []byte(s)
	}
	id, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return fmt.Errorf("min_id %s: %w", raw.MinID, err)
	}
	c.MinID = id
	return nil
}

// Store reads and writes named state files under a base directory.
type Store struct {
	dir    string
	logger *log.Logger
}

// NewStore returns a Store rooted at dir. A nil logger discards output.
func NewStore(dir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Store{dir: dir, logger: logger.WithPrefix("state")}
}

// Path returns the location of a named state file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Read loads the cursor stored under name. ok is false when the file does not
// exist or cannot be parsed; an unparsable file is removed. Only unexpected
// I/O failures are returned as errors.
func (s *Store) Read(name string) (c Cursor, ok bool, err error) {
	path := s.Path(name)
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("state file not found", "path", path)
			return Cursor{}, false, nil
		}
		return Cursor{}, false, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(content, &c); err != nil {
		s.logger.Warn("state file malformed, removing", "path", path, "err", err)
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return Cursor{}, false, fmt.Errorf("failed to remove malformed state file: %w", rmErr)
		}
		return Cursor{}, false, nil
	}
	return c, true, nil
}

// Write replaces the cursor stored under name. The new content is written to
// a temporary file in the same directory and renamed into place, so a reader
// sees either the previous or the new cursor.
func (s *Store) Write(c Cursor, name string) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(name)); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	s.logger.Debug("state written", "path", s.Path(name), "min_id", c.MinID)
	return nil
}
