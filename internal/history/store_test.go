package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRun(t *testing.T, root, id string, total, generated int, mtime time.Time) {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	qs := make([]map[string]any, generated)
	for i := range qs {
		qs[i] = map[string]any{"reference_question_number": i + 1}
	}
	data, _ := json.Marshal(map[string]any{
		"total_reference_questions": total,
		"generated_questions":       qs,
	})
	if err := os.WriteFile(filepath.Join(dir, "paper_generated_questions.json"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(dir, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func TestParseDirName(t *testing.T) {
	tests := []struct {
		id        string
		wantTime  string
		wantPaper string
	}{
		{"mimic_20240115_093000_midterm", "2024-01-15 09:30", "midterm"},
		{"mimic_20240115_093000_final_exam_2023", "2024-01-15 09:30", "final_exam_2023"},
		{"mimic_bad_name", "Unknown", "Unknown"},
		{"mimic_20240115_093000", "2024-01-15 09:30", "Unknown"},
		{"random", "Unknown", "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			ts, paper := ParseDirName(tt.id)
			if ts != tt.wantTime || paper != tt.wantPaper {
				t.Errorf("ParseDirName(%q) = %q, %q; want %q, %q", tt.id, ts, paper, tt.wantTime, tt.wantPaper)
			}
		})
	}
}

func TestDirNameRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 30, 0, 0, time.Local)
	id := DirName(ts, "midterm")
	if id != "mimic_20240115_093000_midterm" {
		t.Fatalf("unexpected dir name %s", id)
	}
	if got, paper := ParseDirName(id); got != "2024-01-15 09:30" || paper != "midterm" {
		t.Errorf("unexpected parse %s %s", got, paper)
	}
}

func TestStore_ListSkipsDirsWithoutArtifact(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeRun(t, root, "mimic_20240101_120000_old", 4, 3, now.Add(-time.Hour))
	writeRun(t, root, "mimic_20240102_120000_new", 2, 2, now)
	os.MkdirAll(filepath.Join(root, "mimic_20240103_120000_empty"), 0o755)

	items, err := NewStore(root, nil).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d: %+v", len(items), items)
	}
	if items[0].ID != "mimic_20240102_120000_new" {
		t.Errorf("expected newest first, got %s", items[0].ID)
	}
	if items[1].TotalQuestions != 4 || items[1].SuccessCount != 3 || items[1].PaperName != "old" {
		t.Errorf("unexpected summary %+v", items[1])
	}
}

func TestStore_ListMissingRoot(t *testing.T) {
	items, err := NewStore(filepath.Join(t.TempDir(), "missing"), nil).List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected empty listing, got %d", len(items))
	}
}

func TestStore_Get(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "mimic_20240101_120000_p", 1, 1, time.Now())
	os.MkdirAll(filepath.Join(root, "mimic_20240101_120000_bare"), 0o755)
	s := NewStore(root, nil)

	raw, err := s.Get("mimic_20240101_120000_p")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil || v["total_reference_questions"] != float64(1) {
		t.Errorf("unexpected artifact %s", raw)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Get("mimic_20240101_120000_bare"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
	if _, err := s.Get("../etc"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	root := t.TempDir()
	writeRun(t, root, "mimic_20240101_120000_p", 1, 1, time.Now())
	s := NewStore(root, nil)

	if err := s.Delete("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete("mimic_20240101_120000_p"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	items, _ := s.List()
	if len(items) != 0 {
		t.Errorf("expected deleted run to disappear, got %+v", items)
	}
	if _, err := os.Stat(filepath.Join(root, "mimic_20240101_120000_p")); !os.IsNotExist(err) {
		t.Error("expected directory removed")
	}
}

func TestStore_CreateSessionDirUnique(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	fixed := time.Date(2024, 1, 15, 9, 30, 0, 0, time.Local)
	s.now = func() time.Time { return fixed }

	id1, path1, err := s.CreateSessionDir("midterm.pdf")
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := s.CreateSessionDir("midterm.pdf")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "mimic_20240115_093000_midterm" || id2 != "mimic_20240115_093001_midterm" {
		t.Errorf("unexpected ids %s %s", id1, id2)
	}
	if info, err := os.Stat(path1); err != nil || !info.IsDir() {
		t.Error("expected directory created")
	}
}

func TestStore_SaveArtifact(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	_, dir, err := s.CreateSessionDir("quiz")
	if err != nil {
		t.Fatal(err)
	}

	path, err := s.SaveArtifact(dir, "quiz_generated_questions.json", map[string]any{
		"total_reference_questions": 3,
		"generated_questions":       []int{1, 2},
	})
	if err != nil {
		t.Fatalf("SaveArtifact failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("unexpected path %s", path)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	items, err := s.List()
	if err != nil || len(items) != 1 || items[0].SuccessCount != 2 {
		t.Fatalf("unexpected listing %+v %v", items, err)
	}
}

func TestStore_CacheInvalidation(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	s.EnableCache()
	writeRun(t, root, "mimic_20240101_120000_a", 1, 1, time.Now())

	if items, _ := s.List(); len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	writeRun(t, root, "mimic_20240101_130000_b", 1, 1, time.Now())
	if items, _ := s.List(); len(items) != 1 {
		t.Errorf("expected cached listing, got %d", len(items))
	}
	s.Invalidate()
	if items, _ := s.List(); len(items) != 2 {
		t.Errorf("expected fresh listing, got %d", len(items))
	}
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"", ".", "..", ".hidden", "a/b", `a\b`} {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidID", id, err)
		}
	}
	if err := ValidateID("mimic_20240101_120000_x"); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
