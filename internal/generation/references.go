package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoReferenceFile is returned when a paper directory has no question
// file.
var ErrNoReferenceFile = errors.New("no reference question file found")

const maxReferenceDepth = 3

// ReferenceQuestion is one question extracted from a parsed exam paper.
type ReferenceQuestion struct {
	Number string `json:"question_number"`
	Text   string `json:"question_text"`
	Type   string `json:"question_type,omitempty"`
}

// UnmarshalJSON accepts question_number as a string or a number.
func (q *ReferenceQuestion) UnmarshalJSON(data []byte) error {
	var raw struct {
		Number json.RawMessage `json:"question_number"`
		Text   string          `json:"question_text"`
		Type   string          `json:"question_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	q.Text = raw.Text
	q.Type = raw.Type
	q.Number = ""

	num := bytes.TrimSpace(raw.Number)
	if len(num) == 0 || string(num) == "null" {
		return nil
	}
	if num[0] == '"' {
		return json.Unmarshal(num, &q.Number)
	}
	var n json.Number
	if err := json.Unmarshal(num, &n); err != nil {
		return fmt.Errorf("question_number: %w", err)
	}
	q.Number = n.String()
	return nil
}

// FindReferenceFile locates the question file of a parsed paper
// directory. questions.json wins over *_questions.json; generated
// artifacts never match. Subdirectories are searched breadth-first up to
// a fixed depth.
func FindReferenceFile(dir string) (string, error) {
	var exact, suffixed []string
	root := filepath.Clean(dir)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if d.IsDir() {
			if depth >= maxReferenceDepth {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		switch {
		case name == "questions.json":
			exact = append(exact, path)
		case strings.HasSuffix(name, "_generated_questions.json"):
		case strings.HasSuffix(name, "_questions.json"):
			suffixed = append(suffixed, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", dir, err)
	}

	for _, group := range [][]string{exact, suffixed} {
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			di, dj := strings.Count(group[i], string(filepath.Separator)), strings.Count(group[j], string(filepath.Separator))
			if di != dj {
				return di < dj
			}
			return group[i] < group[j]
		})
		return group[0], nil
	}
	return "", fmt.Errorf("%w in %s", ErrNoReferenceFile, dir)
}

// LoadReferences reads the reference questions of a parsed paper
// directory. The file holds either a bare array or {"questions": [...]}.
// Entries without text are skipped.
func LoadReferences(dir string) ([]ReferenceQuestion, error) {
	path, err := FindReferenceFile(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read references: %w", err)
	}

	var list []ReferenceQuestion
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	} else {
		var wrapped struct {
			Questions []ReferenceQuestion `json:"questions"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		list = wrapped.Questions
	}

	out := list[:0]
	for i, q := range list {
		if strings.TrimSpace(q.Text) == "" {
			continue
		}
		if q.Number == "" {
			q.Number = fmt.Sprint(i + 1)
		}
		out = append(out, q)
	}
	return out, nil
}
