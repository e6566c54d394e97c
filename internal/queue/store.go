// Package queue persists notifications as JSON files in a directory
// tree. Which directory a file lives in is its processing state:
// pending, quarantined, or processed-without-reply.
package queue

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mention_bot/internal/model"
)

// Location identifies which directory of the queue tree a file lives in.
type Location int

const (
	// LocationPending holds notifications awaiting processing.
	LocationPending Location = iota
	// LocationError quarantines corrupt or permanently failed files.
	LocationError
	// LocationNoReply holds notifications processed with a decision
	// not to respond.
	LocationNoReply
)

func (l Location) String() string {
	switch l {
	case LocationError:
		return "errors"
	case LocationNoReply:
		return "no_reply"
	default:
		return "queue"
	}
}

// Store is the directory-backed notification file store.
type Store struct {
	pendingDir string
	errorDir   string
	noReplyDir string
	log        *slog.Logger
}

// NewStore creates a Store over the three queue directories.
func NewStore(pendingDir, errorDir, noReplyDir string, log *slog.Logger) *Store {
	return &Store{
		pendingDir: pendingDir,
		errorDir:   errorDir,
		noReplyDir: noReplyDir,
		log:        log,
	}
}

// Dir returns the directory path for a location.
func (s *Store) Dir(loc Location) string {
	switch loc {
	case LocationError:
		return s.errorDir
	case LocationNoReply:
		return s.noReplyDir
	default:
		return s.pendingDir
	}
}

// Filename returns the stable queue filename for a notification URI:
// a truncated SHA-256 of the URI. Saving the same URI twice overwrites,
// which is safe because content is idempotent per URI.
func Filename(uri string) string {
	h := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("%x.json", h[:16])
}

// Load reads and decodes a notification file. A missing file or corrupt
// JSON content yields a permanent error; a corrupt file is additionally
// moved into the error directory so the active queue keeps flowing.
func (s *Store) Load(path string) (*model.Notification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		qe := Classify(err, path, "load")
		s.logError(qe)
		return nil, qe
	}

	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		qe := Classify(err, path, "load")
		s.logError(qe)
		if qe.Kind == KindPermanent {
			s.quarantine(path)
		}
		return nil, qe
	}
	return &n, nil
}

// Peek reads and decodes a notification file without the quarantine
// side effect of Load. Used by scans that must not mutate the queue.
func (s *Store) Peek(path string) (*model.Notification, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Classify(err, path, "peek")
	}
	var n model.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, Classify(err, path, "peek")
	}
	return &n, nil
}

// Save serializes a notification to path, writing a temporary file and
// renaming it into place so readers never see a partial write.
func (s *Store) Save(n *model.Notification, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		qe := Classify(err, path, "save")
		s.logError(qe)
		return qe
	}

	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		qe := Classify(err, path, "save")
		s.logError(qe)
		return qe
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		qe := Classify(err, path, "save")
		s.logError(qe)
		return qe
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		qe := Classify(err, path, "save")
		s.logError(qe)
		return qe
	}
	return nil
}

// Enqueue saves a notification into the pending directory under its
// stable filename and returns the full path.
func (s *Store) Enqueue(n *model.Notification) (string, error) {
	path := filepath.Join(s.pendingDir, Filename(n.URI))
	if err := s.Save(n, path); err != nil {
		return "", err
	}
	return path, nil
}

// Move relocates a queue file into the given location with an atomic
// same-volume rename.
func (s *Store) Move(path string, loc Location) error {
	dir := s.Dir(loc)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		qe := Classify(err, path, "move")
		s.logError(qe)
		return qe
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		qe := Classify(err, path, "move")
		s.logError(qe)
		return qe
	}
	return nil
}

// Delete removes a queue file. Deleting a file that is already gone is
// not an error: callers may race with quarantine moves.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		qe := Classify(err, path, "delete")
		s.logError(qe)
		return qe
	}
	return nil
}

// List returns the JSON files in a location, sorted by name. A missing
// directory is an ordinary empty state, not an error.
func (s *Store) List(loc Location) ([]string, error) {
	dir := s.Dir(loc)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		qe := Classify(err, dir, "list")
		s.logError(qe)
		return nil, qe
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// quarantine moves a corrupt file into the error directory. Failure to
// move is logged but not propagated: the load error is what matters.
func (s *Store) quarantine(path string) {
	if err := os.MkdirAll(s.errorDir, 0o750); err != nil {
		s.log.Error("create error directory", "path", s.errorDir, "error", err)
		return
	}
	dest := filepath.Join(s.errorDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		s.log.Error("quarantine corrupted file", "path", path, "error", err)
		return
	}
	s.log.Info("moved corrupted file to error directory", "path", dest)
}

func (s *Store) logError(qe *Error) {
	switch qe.Kind {
	case KindHealth:
		s.log.Error("queue health error", "op", qe.Op, "path", qe.Path, "error", qe.Err)
	case KindPermanent:
		s.log.Error("permanent queue error", "op", qe.Op, "path", qe.Path, "error", qe.Err)
	case KindTransient:
		s.log.Warn("transient queue error", "op", qe.Op, "path", qe.Path, "error", qe.Err)
	default:
		s.log.Error("queue error", "op", qe.Op, "path", qe.Path, "error", qe.Err)
	}
}
