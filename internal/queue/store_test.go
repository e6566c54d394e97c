package queue

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mention_bot/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(
		filepath.Join(root, "queue"),
		filepath.Join(root, "queue", "errors"),
		filepath.Join(root, "queue", "no_reply"),
		log,
	)
}

func sampleNotification(uri string) *model.Notification {
	return &model.Notification{
		URI:    uri,
		Author: &model.Author{Handle: "alice.example.com", DID: "did:plc:alice"},
		Record: &model.PostRecord{Text: "hey @bot what do you think?"},
		Reason: "mention",

		IndexedAt: "2026-08-25T10:00:00Z",
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	n := sampleNotification("at://did:plc:alice/app.bsky.feed.post/1")

	path := filepath.Join(s.Dir(LocationPending), Filename(n.URI))
	if err := s.Save(n, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingFileIsPermanent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(filepath.Join(s.Dir(LocationPending), "nope.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestLoadCorruptFileQuarantines(t *testing.T) {
	s := newTestStore(t)
	dir := s.Dir(LocationPending)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	// Embedded NUL byte makes the content invalid JSON.
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, []byte("{\"uri\": \"at://x\x00\"}"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := s.Load(path)
	if err == nil {
		t.Fatal("expected error for corrupt file")
	}
	if !IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt file still present at original path")
	}
	moved := filepath.Join(s.Dir(LocationError), "corrupt.json")
	if _, err := os.Stat(moved); err != nil {
		t.Errorf("corrupt file not found in error directory: %v", err)
	}
}

func TestPeekDoesNotQuarantine(t *testing.T) {
	s := newTestStore(t)
	dir := s.Dir(LocationPending)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := s.Peek(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("peek moved the file: %v", err)
	}
}

func TestEnqueueUsesStableFilename(t *testing.T) {
	s := newTestStore(t)
	n := sampleNotification("at://did:plc:alice/app.bsky.feed.post/42")

	first, err := s.Enqueue(n)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	second, err := s.Enqueue(n)
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("filename not stable (-want +got):\n%s", diff)
	}

	paths, err := s.List(LocationPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("expected 1 file after duplicate enqueue, got %d", len(paths))
	}
}

func TestMove(t *testing.T) {
	s := newTestStore(t)
	n := sampleNotification("at://move-me")
	path, err := s.Enqueue(n)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.Move(path, LocationNoReply); err != nil {
		t.Fatalf("move: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still present in pending after move")
	}
	moved := filepath.Join(s.Dir(LocationNoReply), filepath.Base(path))
	got, err := s.Load(moved)
	if err != nil {
		t.Fatalf("load moved file: %v", err)
	}
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("moved content mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteMissingIsNoError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(filepath.Join(s.Dir(LocationPending), "gone.json")); err != nil {
		t.Errorf("delete of missing file: %v", err)
	}
}

func TestListMissingDirectory(t *testing.T) {
	s := newTestStore(t)
	paths, err := s.List(LocationError)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("expected empty list, got %d", len(paths))
	}
}

func TestListSkipsNonJSON(t *testing.T) {
	s := newTestStore(t)
	dir := s.Dir(LocationPending)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o640); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := s.Enqueue(sampleNotification("at://keep")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	paths, err := s.List(LocationPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("expected only the json file, got %v", paths)
	}
}
