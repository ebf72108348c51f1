package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
)

// setupCLI points the CLI at an empty temp config and a temp history root.
func setupCLI(t *testing.T) (configPath, root string) {
	t.Helper()
	dir := t.TempDir()
	root = filepath.Join(dir, "mimic")
	t.Setenv("MIMIC_DIR", root)
	t.Setenv("LOG_LEVEL", "error")
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "LLM_API_KEY"} {
		t.Setenv(k, "")
	}
	return filepath.Join(dir, "missing.yaml"), root
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func seedRun(t *testing.T, root string) string {
	t.Helper()
	store := history.NewStore(root, nil)
	id, dir, err := store.CreateSessionDir("midterm")
	if err != nil {
		t.Fatal(err)
	}
	artifact := generation.Artifact{
		PaperName:               "midterm",
		TotalReferenceQuestions: 2,
		GeneratedQuestions:      []generation.GeneratedItem{{ReferenceQuestionNumber: "1"}},
	}
	if _, err := store.SaveArtifact(dir, "midterm"+generation.ArtifactSuffix, artifact); err != nil {
		t.Fatal(err)
	}
	return id
}

func TestHistoryListEmpty(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := runCLI(t, "", "history", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, "No history sessions found.") {
		t.Errorf("output = %q", out)
	}
}

func TestHistoryLifecycle(t *testing.T) {
	cfgPath, root := setupCLI(t)
	id := seedRun(t, root)

	out, err := runCLI(t, "", "history", "list", "-c", cfgPath)
	if err != nil {
		t.Fatalf("history list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "1/2") {
		t.Errorf("listing missing run: %q", out)
	}

	out, err = runCLI(t, "", "history", "list", "--json", "-c", cfgPath)
	if err != nil {
		t.Fatalf("history list --json: %v", err)
	}
	var items []history.Session
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode listing: %v (%q)", err, out)
	}
	if len(items) != 1 || items[0].ID != id || items[0].SuccessCount != 1 {
		t.Errorf("items = %+v", items)
	}

	out, err = runCLI(t, "", "history", "show", id, "-c", cfgPath)
	if err != nil {
		t.Fatalf("history show: %v", err)
	}
	if !strings.Contains(out, `"paper_name": "midterm"`) {
		t.Errorf("show output = %q", out)
	}

	if _, err := runCLI(t, "", "history", "delete", id, "-c", cfgPath); err != nil {
		t.Fatalf("history delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, id)); !os.IsNotExist(err) {
		t.Errorf("run dir still present: %v", err)
	}

	if _, err := runCLI(t, "", "history", "show", id, "-c", cfgPath); err == nil {
		t.Error("show after delete succeeded")
	}
}

func TestHistoryShowRejectsTraversal(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	if _, err := runCLI(t, "", "history", "show", "../etc", "-c", cfgPath); err == nil {
		t.Error("expected error for traversal id")
	}
}

func TestGenerateRequiresReference(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	_, err := runCLI(t, "   \n", "generate", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "reference question is required") {
		t.Errorf("err = %v", err)
	}
}

func TestGenerateRejectsBadCount(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	if _, err := runCLI(t, "", "generate", "-r", "What is 2+2?", "-n", "0", "-c", cfgPath); err == nil {
		t.Error("expected error for zero count")
	}
}

func TestGenerateWithoutAPIKeyReportsFailures(t *testing.T) {
	cfgPath, _ := setupCLI(t)

	out, err := runCLI(t, "What is 2+2?\n", "generate", "-n", "2", "--json", "-c", cfgPath)
	if err != nil {
		t.Fatalf("generate --json: %v", err)
	}
	var batch generation.BatchResult
	if err := json.Unmarshal([]byte(out), &batch); err != nil {
		t.Fatalf("decode batch: %v (%q)", err, out)
	}
	if batch.Requested != 2 || batch.Failed != 2 || batch.Completed != 0 {
		t.Errorf("batch = %+v", batch)
	}

	out, err = runCLI(t, "", "generate", "-r", "What is 2+2?", "-c", cfgPath)
	if err == nil {
		t.Error("expected error when nothing was generated")
	}
	if !strings.Contains(out, "Generated 0/1 questions") {
		t.Errorf("output = %q", out)
	}
}

func TestPrintBatch(t *testing.T) {
	var out bytes.Buffer
	printBatch(&out, generation.BatchResult{
		Requested: 2,
		Completed: 1,
		Failed:    1,
		Results: []generation.QuestionResult{
			{Success: true, Question: map[string]any{"question": "What is 3+3?", "answer": "6"}},
			{Error: "rate limited"},
		},
	})

	got := out.String()
	for _, want := range []string{"Generated 1/2 questions", "1. What is 3+3?", "6", "2. failed: rate limited"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}
