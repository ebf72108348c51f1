package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"paper-mimic/internal/capture"
)

// Progress stages reported by Workflow.Run.
const (
	StageParsing    = "parsing"
	StageExtracting = "extracting"
	StageGenerating = "generating"
)

// Progress statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// ArtifactSuffix names the metadata artifact written into every mimic
// output directory.
const ArtifactSuffix = "_generated_questions.json"

const mimicRequirements = `Mimic the style, structure and difficulty of the reference question.
Question type: %s
Knowledge base: %s
Keep the question self-contained and include the correct answer.`

// ArtifactStore persists the metadata artifact of a mimic run.
type ArtifactStore interface {
	SaveArtifact(dir, name string, v any) (string, error)
}

// MimicRequest is the staged input of one mimic run. Exactly one of
// PDFPath and PaperDir is set. MaxQuestions <= 0 means no bound.
type MimicRequest struct {
	PDFPath      string
	PaperDir     string
	KBName       string
	OutputDir    string
	MaxQuestions int

	// OnPrepared, if set, is called once the paper is parsed or located
	// and before reference extraction starts. It is not called when
	// preparation fails.
	OnPrepared func()
}

// GeneratedItem is one successful generation in the artifact.
type GeneratedItem struct {
	ReferenceQuestionNumber string         `json:"reference_question_number"`
	ReferenceQuestionText   string         `json:"reference_question_text"`
	GeneratedQuestion       map[string]any `json:"generated_question"`
	Validation              map[string]any `json:"validation"`
}

// FailedItem is one failed generation in the artifact.
type FailedItem struct {
	ReferenceQuestionNumber string `json:"reference_question_number"`
	ReferenceQuestionText   string `json:"reference_question_text"`
	Error                   string `json:"error"`
	Reason                  string `json:"reason,omitempty"`
}

// Artifact is the metadata file history listing reads back.
type Artifact struct {
	PaperName               string          `json:"paper_name"`
	KBName                  string          `json:"kb_name"`
	GeneratedAt             time.Time       `json:"generated_at"`
	TotalReferenceQuestions int             `json:"total_reference_questions"`
	SuccessfulGenerations   int             `json:"successful_generations"`
	FailedGenerations       int             `json:"failed_generations"`
	GeneratedQuestions      []GeneratedItem `json:"generated_questions"`
	FailedQuestions         []FailedItem    `json:"failed_questions"`
}

// MimicResult is what the session controller sees of a run.
type MimicResult struct {
	Success                 bool
	Error                   string
	PaperName               string
	TotalReferenceQuestions int
	GeneratedQuestions      []GeneratedItem
	FailedQuestions         []FailedItem
	OutputFile              string
}

// Workflow runs the mimic pipeline: parse or locate the paper, load its
// reference questions, generate one question per reference and write the
// artifact.
type Workflow struct {
	coord  *Coordinator
	parser Parser
	store  ArtifactStore
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflow creates a workflow. parser may be nil when only parsed
// papers are used.
func NewWorkflow(coord *Coordinator, parser Parser, store ArtifactStore, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		coord:  coord,
		parser: parser,
		store:  store,
		logger: logger.With("component", "workflow"),
		now:    time.Now,
	}
}

// Run executes one mimic run. Failures are reported in the result; a
// panicking sink is disabled and the run continues.
func (w *Workflow) Run(ctx context.Context, req MimicRequest, sink ProgressSink) MimicResult {
	if sink == nil {
		sink = Discard
	}
	logger := w.logger.With("kb", req.KBName, "output_dir", req.OutputDir)
	sink = &guardedSink{next: sink, onFail: func(r any) {
		logger.Warn("progress sink panicked, further reports dropped", "panic", r)
	}}

	res := MimicResult{PaperName: paperName(req)}

	paperDir, err := w.preparePaper(ctx, req, sink)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if req.OnPrepared != nil {
		req.OnPrepared()
	}

	sink.Send(Progress{Stage: StageExtracting, Status: StatusRunning, Message: "Extracting reference questions..."})
	refs, err := LoadReferences(paperDir)
	if err != nil {
		sink.Send(Progress{Stage: StageExtracting, Status: StatusFailed, Message: err.Error()})
		res.Error = fmt.Sprintf("Failed to load reference questions: %v", err)
		return res
	}
	if req.MaxQuestions > 0 && len(refs) > req.MaxQuestions {
		refs = refs[:req.MaxQuestions]
	}
	res.TotalReferenceQuestions = len(refs)
	capture.Printf(ctx, "[Mimic] Found %d reference questions in %s", len(refs), filepath.Base(paperDir))
	sink.Send(Progress{
		Stage:   StageExtracting,
		Status:  StatusComplete,
		Message: fmt.Sprintf("Found %d reference questions", len(refs)),
		Extra:   map[string]any{"total": len(refs)},
	})

	coord := w.coord.WithKB(req.KBName)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			res.Error = fmt.Sprintf("generation cancelled: %v", err)
			return res
		}

		qid := fmt.Sprintf("q_%d", i+1)
		sink.Send(Progress{
			Stage:   StageGenerating,
			Status:  StatusRunning,
			Message: fmt.Sprintf("Generating question %d/%d", i+1, len(refs)),
			Extra: map[string]any{
				"current":          i + 1,
				"total":            len(refs),
				"question_id":      qid,
				"reference_number": ref.Number,
			},
		})
		capture.Printf(ctx, "[Mimic] Generating question for reference %s", ref.Number)

		qtype := ref.Type
		if qtype == "" {
			qtype = "same as reference"
		}
		out := coord.GenerateQuestion(ctx, Requirement{
			ReferenceQuestion:      ref.Text,
			AdditionalRequirements: fmt.Sprintf(mimicRequirements, qtype, req.KBName),
		})

		itemStatus := "completed"
		if out.Success {
			res.GeneratedQuestions = append(res.GeneratedQuestions, GeneratedItem{
				ReferenceQuestionNumber: ref.Number,
				ReferenceQuestionText:   ref.Text,
				GeneratedQuestion:       out.Question,
				Validation:              out.Validation,
			})
		} else {
			itemStatus = "failed"
			res.FailedQuestions = append(res.FailedQuestions, FailedItem{
				ReferenceQuestionNumber: ref.Number,
				ReferenceQuestionText:   ref.Text,
				Error:                   out.Error,
				Reason:                  out.Reason,
			})
			capture.Printf(ctx, "[Mimic] Question %s failed: %s", ref.Number, out.Error)
		}
		sink.Send(Progress{
			Stage:   StageGenerating,
			Status:  StatusRunning,
			Message: fmt.Sprintf("Question %d/%d %s", i+1, len(refs), itemStatus),
			Extra: map[string]any{
				"current":          i + 1,
				"total":            len(refs),
				"question_id":      qid,
				"reference_number": ref.Number,
				"question_status":  itemStatus,
			},
		})
	}

	sink.Send(Progress{
		Stage:   StageGenerating,
		Status:  StatusComplete,
		Message: fmt.Sprintf("Generated %d/%d questions", len(res.GeneratedQuestions), len(refs)),
		Extra: map[string]any{
			"successful": len(res.GeneratedQuestions),
			"failed":     len(res.FailedQuestions),
		},
	})

	if w.store != nil {
		path, err := w.store.SaveArtifact(req.OutputDir, res.PaperName+ArtifactSuffix, w.artifact(req, res))
		if err != nil {
			logger.Error("failed to save artifact", "error", err)
			res.Error = fmt.Sprintf("Failed to save results: %v", err)
			return res
		}
		res.OutputFile = path
		capture.Printf(ctx, "[Mimic] Results saved to %s", path)
	}

	switch {
	case len(refs) == 0:
		res.Error = "No reference questions found in paper"
	case len(res.GeneratedQuestions) == 0:
		res.Error = fmt.Sprintf("all %d question generations failed", len(refs))
	default:
		res.Success = true
	}
	logger.Info("mimic run finished",
		"paper", res.PaperName,
		"references", len(refs),
		"generated", len(res.GeneratedQuestions),
		"failed", len(res.FailedQuestions))
	return res
}

func (w *Workflow) preparePaper(ctx context.Context, req MimicRequest, sink ProgressSink) (string, error) {
	if req.PaperDir != "" {
		sink.Send(Progress{
			Stage:   StageParsing,
			Status:  StatusComplete,
			Message: fmt.Sprintf("Using parsed paper: %s", filepath.Base(req.PaperDir)),
		})
		return req.PaperDir, nil
	}
	if req.PDFPath == "" {
		return "", errors.New("no paper to process")
	}

	sink.Send(Progress{Stage: StageParsing, Status: StatusRunning, Message: "Parsing PDF exam paper..."})
	if w.parser == nil {
		sink.Send(Progress{Stage: StageParsing, Status: StatusFailed, Message: ErrParserNotConfigured.Error()})
		return "", ErrParserNotConfigured
	}
	capture.Printf(ctx, "[Mimic] Parsing PDF: %s", filepath.Base(req.PDFPath))
	dir, err := w.parser.Parse(ctx, req.PDFPath, filepath.Join(req.OutputDir, "parsed"))
	if err != nil {
		sink.Send(Progress{Stage: StageParsing, Status: StatusFailed, Message: err.Error()})
		return "", fmt.Errorf("PDF parsing failed: %w", err)
	}
	sink.Send(Progress{Stage: StageParsing, Status: StatusComplete, Message: "PDF parsed"})
	return dir, nil
}

func (w *Workflow) artifact(req MimicRequest, res MimicResult) Artifact {
	a := Artifact{
		PaperName:               res.PaperName,
		KBName:                  req.KBName,
		GeneratedAt:             w.now().UTC(),
		TotalReferenceQuestions: res.TotalReferenceQuestions,
		SuccessfulGenerations:   len(res.GeneratedQuestions),
		FailedGenerations:       len(res.FailedQuestions),
		GeneratedQuestions:      res.GeneratedQuestions,
		FailedQuestions:         res.FailedQuestions,
	}
	if a.GeneratedQuestions == nil {
		a.GeneratedQuestions = []GeneratedItem{}
	}
	if a.FailedQuestions == nil {
		a.FailedQuestions = []FailedItem{}
	}
	return a
}

func paperName(req MimicRequest) string {
	var name string
	if req.PDFPath != "" {
		base := filepath.Base(req.PDFPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	} else {
		name = filepath.Base(filepath.Clean(req.PaperDir))
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "paper"
	}
	return name
}
