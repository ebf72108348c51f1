package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_InvalidatesOnExternalChange(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	changed := make(chan struct{}, 16)
	w, err := Watch(s, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if items, _ := s.List(); len(items) != 0 {
		t.Fatalf("expected empty listing, got %d", len(items))
	}

	writeRun(t, root, "mimic_20240101_120000_ext", 1, 1, time.Now())

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
	if items, _ := s.List(); len(items) != 1 {
		t.Errorf("expected external run in listing, got %d", len(items))
	}
}

func TestWatcher_WatchesNewRunDirs(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	changed := make(chan struct{}, 16)
	w, err := Watch(s, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	dir := filepath.Join(root, "mimic_20240101_120000_late")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for directory creation")
	}

	s.List()
	if err := os.WriteFile(filepath.Join(dir, "late_generated_questions.json"), []byte(`{"total_reference_questions":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for artifact write")
	}
	if items, _ := s.List(); len(items) != 1 {
		t.Errorf("expected 1 item after artifact write, got %d", len(items))
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	w, err := Watch(NewStore(t.TempDir(), nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	w.Close()
}
