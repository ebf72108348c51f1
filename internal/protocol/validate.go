package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Mode selects how the input paper is staged.
type Mode string

const (
	ModeUpload Mode = "upload"
	ModeParsed Mode = "parsed"
)

const defaultKBName = "default"

// ErrInvalidInit is wrapped by every init message validation failure.
var ErrInvalidInit = errors.New("invalid init message")

// InitMessage is the first and only client → server message of a
// streaming session.
type InitMessage struct {
	Mode         Mode   `json:"mode"`
	KBName       string `json:"kb_name"`
	MaxQuestions *int   `json:"max_questions,omitempty"`

	// Upload mode.
	PDFData string `json:"pdf_data,omitempty"`
	PDFName string `json:"pdf_name,omitempty"`

	// Parsed mode.
	PaperPath string `json:"paper_path,omitempty"`
}

// ValidationError describes a malformed or incomplete init message. Its
// message is what the client sees in the error event.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrInvalidInit }

// ParseInitMessage decodes and validates a raw init message, applying the
// defaults for mode and kb_name.
func ParseInitMessage(raw []byte) (*InitMessage, error) {
	var msg InitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if msg.Mode == "" {
		msg.Mode = ModeParsed
	}
	if msg.KBName == "" {
		msg.KBName = defaultKBName
	}

	if msg.MaxQuestions != nil && *msg.MaxQuestions <= 0 {
		return nil, &ValidationError{Field: "max_questions", Reason: "max_questions must be a positive integer"}
	}

	switch msg.Mode {
	case ModeUpload:
		if msg.PDFData == "" {
			return nil, &ValidationError{Field: "pdf_data", Reason: "PDF data is required for upload mode"}
		}
		if msg.PDFName == "" {
			return nil, &ValidationError{Field: "pdf_name", Reason: "pdf_name is required for upload mode"}
		}

	case ModeParsed:
		if msg.PaperPath == "" {
			return nil, &ValidationError{Field: "paper_path", Reason: "paper_path is required for parsed mode"}
		}

	default:
		return nil, &ValidationError{Field: "mode", Reason: fmt.Sprintf("Unknown mode: %s", msg.Mode)}
	}

	return &msg, nil
}

// Limit returns the item bound, or 0 when none was requested.
func (m *InitMessage) Limit() int {
	if m.MaxQuestions == nil {
		return 0
	}
	return *m.MaxQuestions
}
