package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncode_Status(t *testing.T) {
	data, err := Encode(Status{Stage: "init", Content: "Initializing..."})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["type"] != "status" || m["stage"] != "init" || m["content"] != "Initializing..." {
		t.Errorf("unexpected status payload: %s", data)
	}
}

func TestEncode_ProgressFlattensExtra(t *testing.T) {
	ev := Progress{
		Stage:   "processing",
		Status:  "running",
		Message: "Generating 1/3",
		Extra:   map[string]any{"current": 1, "total": 3, "stage": "bogus"},
	}
	data, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var m map[string]any
	json.Unmarshal(data, &m)
	if m["type"] != "progress" {
		t.Errorf("expected type progress, got %v", m["type"])
	}
	if m["stage"] != "processing" {
		t.Errorf("extra field must not override stage, got %v", m["stage"])
	}
	if m["current"] != float64(1) || m["total"] != float64(3) {
		t.Errorf("expected flattened extras, got %s", data)
	}
}

func TestEncode_Complete(t *testing.T) {
	data, err := Encode(Complete{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"type":"complete"}` {
		t.Errorf("unexpected complete payload: %s", data)
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDecode_RoundTripKinds(t *testing.T) {
	ts := time.Date(2024, 1, 15, 9, 30, 0, 123000000, time.UTC)
	events := []Event{
		Status{Stage: "upload", Content: "Saving PDF: exam.pdf"},
		Progress{Stage: "parsing", Status: "running", Message: "Parsing PDF exam paper...", Extra: map[string]any{"total": float64(4)}},
		Log{Content: "hello", Timestamp: ts},
		Complete{},
		Error{Content: "boom"},
	}

	for _, want := range events {
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", want.Type(), err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", data, err)
		}
		if got.Type() != want.Type() {
			t.Errorf("expected type %s, got %s", want.Type(), got.Type())
		}
		if l, ok := got.(Log); ok && !l.Timestamp.Equal(ts) {
			t.Errorf("expected timestamp %v, got %v", ts, l.Timestamp)
		}
		if p, ok := got.(Progress); ok && p.Extra["total"] != float64(4) {
			t.Errorf("expected extra total=4, got %v", p.Extra)
		}
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type":"bogus"}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := Decode([]byte(`{}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestTerminal(t *testing.T) {
	if !(Complete{}).Terminal() || !(Error{}).Terminal() {
		t.Error("complete and error must be terminal")
	}
	if (Status{}).Terminal() || (Progress{}).Terminal() || (Log{}).Terminal() {
		t.Error("status, progress and log must not be terminal")
	}
}

func TestParseInitMessage_Defaults(t *testing.T) {
	msg, err := ParseInitMessage([]byte(`{"paper_path":"midterm"}`))
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if msg.Mode != ModeParsed {
		t.Errorf("expected default mode parsed, got %s", msg.Mode)
	}
	if msg.KBName != "default" {
		t.Errorf("expected default kb_name, got %s", msg.KBName)
	}
	if msg.Limit() != 0 {
		t.Errorf("expected no limit, got %d", msg.Limit())
	}
}

func TestParseInitMessage_ValidUpload(t *testing.T) {
	raw := `{"mode":"upload","pdf_data":"JVBERi0=","pdf_name":"exam.pdf","kb_name":"physics","max_questions":5}`
	msg, err := ParseInitMessage([]byte(raw))
	if err != nil {
		t.Fatalf("expected valid message, got error: %v", err)
	}
	if msg.Mode != ModeUpload || msg.KBName != "physics" || msg.Limit() != 5 {
		t.Errorf("unexpected parse result: %+v", msg)
	}
}

func TestParseInitMessage_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"invalid json", `not json`, ""},
		{"unknown mode", `{"mode":"stream"}`, "mode"},
		{"upload without data", `{"mode":"upload","pdf_name":"a.pdf"}`, "pdf_data"},
		{"upload without name", `{"mode":"upload","pdf_data":"AAAA"}`, "pdf_name"},
		{"parsed without path", `{"mode":"parsed"}`, "paper_path"},
		{"zero max questions", `{"paper_path":"p","max_questions":0}`, "max_questions"},
		{"negative max questions", `{"paper_path":"p","max_questions":-2}`, "max_questions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInitMessage([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidInit) {
				t.Errorf("expected ErrInvalidInit, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestParseInitMessage_UnknownModeMessage(t *testing.T) {
	_, err := ParseInitMessage([]byte(`{"mode":"stream"}`))
	if err == nil || !strings.Contains(err.Error(), "Unknown mode: stream") {
		t.Errorf("expected unknown mode message, got %v", err)
	}
}
