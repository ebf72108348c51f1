// Package history stores mimic runs on disk, one directory per run, and
// reads them back for listing, detail and deletion.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	dirPrefix      = "mimic_"
	timeLayout     = "20060102_150405"
	displayLayout  = "2006-01-02 15:04"
	artifactGlob   = "*_generated_questions.json"
	lockFileName   = ".history.lock"
	unknown        = "Unknown"
	maxDirAttempts = 120
)

var (
	// ErrNotFound is returned for an id with no directory.
	ErrNotFound = errors.New("Session not found")
	// ErrArtifactNotFound is returned when a directory exists but has no
	// metadata artifact.
	ErrArtifactNotFound = errors.New("Data file not found")
	// ErrInvalidID is returned for ids that could escape the history root.
	ErrInvalidID = errors.New("invalid session id")
)

// Session is one entry of the history listing.
type Session struct {
	ID             string `json:"id"`
	Timestamp      string `json:"timestamp"`
	PaperName      string `json:"paper_name"`
	TotalQuestions int    `json:"total_questions"`
	SuccessCount   int    `json:"success_count"`
	PreviewPath    string `json:"preview_path"`
}

// Store manages the history root. A file lock in the root serializes
// writers against readers across processes.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	caching bool
	cache   []Session
	valid   bool
	gen     uint64
}

// NewStore creates a store rooted at root. The directory is created
// lazily.
func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   root,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Root returns the history root directory.
func (s *Store) Root() string {
	return s.root
}

// DirName returns the directory name of a run started at t for paper.
func DirName(t time.Time, paper string) string {
	return dirPrefix + t.Format(timeLayout) + "_" + paper
}

// ParseDirName extracts the display timestamp and paper name from a
// directory name. Parts that do not parse are reported as "Unknown".
func ParseDirName(id string) (timestamp, paper string) {
	timestamp, paper = unknown, unknown
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return timestamp, paper
	}
	if t, err := time.Parse(timeLayout, parts[1]+"_"+parts[2]); err == nil {
		timestamp = t.Format(displayLayout)
	}
	if name := strings.Join(parts[3:], "_"); name != "" {
		paper = name
	}
	return timestamp, paper
}

// ValidateID rejects ids that are not a single plain path element.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") ||
		strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// PaperName reduces a file or directory name to a safe paper name.
func PaperName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "/" {
		return "paper"
	}
	return base
}

func (s *Store) lock() *flock.Flock {
	return flock.New(filepath.Join(s.root, lockFileName))
}

func (s *Store) withLock(shared bool, fn func() error) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create history root: %w", err)
	}
	fl := s.lock()
	lockFn := fl.Lock
	if shared {
		lockFn = fl.RLock
	}
	if err := lockFn(); err != nil {
		return fmt.Errorf("lock history: %w", err)
	}
	defer fl.Unlock()
	return fn()
}

// CreateSessionDir creates a fresh run directory for paper and returns
// its id and path. On a name clash the timestamp moves forward a second.
func (s *Store) CreateSessionDir(paper string) (string, string, error) {
	paper = PaperName(paper)
	var id, path string
	err := s.withLock(false, func() error {
		t := s.now()
		for i := 0; i < maxDirAttempts; i++ {
			id = DirName(t, paper)
			path = filepath.Join(s.root, id)
			err := os.Mkdir(path, 0o755)
			if err == nil {
				return nil
			}
			if !errors.Is(err, os.ErrExist) {
				return fmt.Errorf("create session dir: %w", err)
			}
			t = t.Add(time.Second)
		}
		return fmt.Errorf("create session dir: no free name for %s", paper)
	})
	if err != nil {
		return "", "", err
	}
	s.Invalidate()
	return id, path, nil
}

// SaveArtifact writes v as indented JSON to dir/name using a temp file
// and rename.
func (s *Store) SaveArtifact(dir, name string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling artifact: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(dir, name)

	err = s.withLock(false, func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating artifact dir: %w", err)
		}
		tmp, err := os.CreateTemp(dir, ".artifact-*.tmp")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmpPath := tmp.Name()
		committed := false
		defer func() {
			if !committed {
				os.Remove(tmpPath)
			}
		}()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("writing temp file: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("closing temp file: %w", err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("renaming artifact: %w", err)
		}
		committed = true
		return nil
	})
	if err != nil {
		return "", err
	}
	s.Invalidate()
	return path, nil
}

// EnableCache keeps the last listing until Invalidate is called. Only
// enable it when something invalidates on external changes.
func (s *Store) EnableCache() {
	s.mu.Lock()
	s.caching = true
	s.valid = false
	s.mu.Unlock()
}

// Invalidate drops the cached listing.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.cache = nil
	s.gen++
	s.mu.Unlock()
}

// List returns all runs with an artifact, newest modified first.
func (s *Store) List() ([]Session, error) {
	s.mu.Lock()
	if s.caching && s.valid {
		out := append([]Session(nil), s.cache...)
		s.mu.Unlock()
		return out, nil
	}
	gen := s.gen
	s.mu.Unlock()

	if _, err := os.Stat(s.root); errors.Is(err, os.ErrNotExist) {
		return []Session{}, nil
	}

	var items []Session
	err := s.withLock(true, func() error {
		var err error
		items, err = s.scan()
		return err
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	// A change seen during the scan may not be reflected in items.
	if s.caching && s.gen == gen {
		s.cache = append([]Session(nil), items...)
		s.valid = true
	}
	s.mu.Unlock()
	return items, nil
}

type dirEntry struct {
	name  string
	mtime time.Time
}

func (s *Store) scan() ([]Session, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read history root: %w", err)
	}

	dirs := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirEntry{name: e.Name(), mtime: info.ModTime()})
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return dirs[i].mtime.After(dirs[j].mtime)
	})

	items := make([]Session, 0, len(dirs))
	for _, d := range dirs {
		item, err := s.summarize(d.name)
		if err != nil {
			if !errors.Is(err, ErrArtifactNotFound) {
				s.logger.Warn("skipping unreadable history entry", "id", d.name, "error", err)
			}
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

type artifactSummary struct {
	TotalReferenceQuestions int               `json:"total_reference_questions"`
	GeneratedQuestions      []json.RawMessage `json:"generated_questions"`
}

func (s *Store) summarize(id string) (Session, error) {
	path, err := s.artifactPath(id)
	if err != nil {
		return Session{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Session{}, fmt.Errorf("read artifact: %w", err)
	}
	var sum artifactSummary
	if err := json.Unmarshal(data, &sum); err != nil {
		return Session{}, fmt.Errorf("parse artifact: %w", err)
	}

	ts, paper := ParseDirName(id)
	return Session{
		ID:             id,
		Timestamp:      ts,
		PaperName:      paper,
		TotalQuestions: sum.TotalReferenceQuestions,
		SuccessCount:   len(sum.GeneratedQuestions),
		PreviewPath:    path,
	}, nil
}

func (s *Store) artifactPath(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, id, artifactGlob))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", ErrArtifactNotFound
	}
	sort.Strings(matches)
	return matches[0], nil
}

func (s *Store) dir(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	path := filepath.Join(s.root, id)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// Get returns the raw metadata artifact of a run.
func (s *Store) Get(id string) (json.RawMessage, error) {
	if _, err := s.dir(id); err != nil {
		return nil, err
	}
	var data []byte
	err := s.withLock(true, func() error {
		path, err := s.artifactPath(id)
		if err != nil {
			return err
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read artifact: %w", err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("artifact for %s is not valid JSON", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// Delete removes a run directory and everything in it.
func (s *Store) Delete(id string) error {
	path, err := s.dir(id)
	if err != nil {
		return err
	}
	err = s.withLock(false, func() error {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("Failed to delete session: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Invalidate()
	s.logger.Info("history session deleted", "id", id)
	return nil
}
