// Package generation produces mimic questions: single items from one LLM
// call, sequential batches, and the full mimic workflow over a staged
// exam paper.
package generation

import (
	"context"
	"fmt"
	"log/slog"

	"paper-mimic/internal/capture"
	"paper-mimic/internal/llm"
)

const systemPrompt = `You are an expert question generator. Your task is to generate educational questions
based on reference questions. The generated question should:
1. Cover the same core concepts as the reference
2. Have similar difficulty level
3. Use different scenarios/contexts
4. Be well-structured and clear`

const userPromptFormat = `Generate a new question based on this reference:

Reference Question: %s

Additional Requirements: %s

Return ONLY a valid JSON object with this structure:
{"question": {"question": "...", "type": "...", "answer": "..."}, "validation": {"relevance": 0.9, "difficulty": "medium"}}`

// Requirement describes the question to generate.
type Requirement struct {
	ReferenceQuestion      string `json:"reference_question"`
	AdditionalRequirements string `json:"additional_requirements,omitempty"`
}

// QuestionResult is the outcome of one generation attempt. Failures are
// values, never errors.
type QuestionResult struct {
	Success    bool           `json:"success"`
	Question   map[string]any `json:"question,omitempty"`
	Validation map[string]any `json:"validation,omitempty"`
	Rounds     int            `json:"rounds,omitempty"`
	Error      string         `json:"error,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// BatchResult summarizes a custom-mode batch. Completed+Failed always
// equals Requested.
type BatchResult struct {
	Success   bool             `json:"success"`
	Requested int              `json:"requested"`
	Completed int              `json:"completed"`
	Failed    int              `json:"failed"`
	Results   []QuestionResult `json:"results"`
}

// Options tunes the completion requests.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	KBName      string
}

// Coordinator generates questions through an LLM client.
type Coordinator struct {
	client llm.Client
	opts   Options
	logger *slog.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(client llm.Client, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.KBName == "" {
		opts.KBName = "default"
	}
	return &Coordinator{client: client, opts: opts, logger: logger.With("component", "coordinator")}
}

// WithKB returns a coordinator sharing the client but bound to another
// knowledge base.
func (c *Coordinator) WithKB(kbName string) *Coordinator {
	cp := *c
	if kbName != "" {
		cp.opts.KBName = kbName
	}
	return &cp
}

type questionPayload struct {
	Question   any `json:"question"`
	Validation any `json:"validation"`
}

// asObject normalizes a loosely shaped response field. Objects pass
// through, null becomes empty and anything else is stored under key.
func asObject(v any, key string) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case nil:
		return map[string]any{}
	default:
		return map[string]any{key: t}
	}
}

// GenerateQuestion makes one LLM call and parses its response.
func (c *Coordinator) GenerateQuestion(ctx context.Context, req Requirement) (result QuestionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failure(fmt.Errorf("panic: %v", r))
		}
	}()

	text, err := c.client.Complete(ctx, llm.Request{
		Model: c.opts.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: fmt.Sprintf(userPromptFormat, req.ReferenceQuestion, req.AdditionalRequirements)},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		c.logger.Warn("question generation failed", "kb", c.opts.KBName, "error", err)
		return failure(err)
	}

	var payload questionPayload
	if err := ExtractJSON(text, &payload); err != nil {
		c.logger.Warn("unparseable generation response", "kb", c.opts.KBName, "error", err)
		return failure(err)
	}

	return QuestionResult{
		Success:    true,
		Question:   asObject(payload.Question, "question"),
		Validation: asObject(payload.Validation, "value"),
		Rounds:     1,
	}
}

// GenerateQuestions runs n sequential generations for the same
// requirement and always returns a complete summary.
func (c *Coordinator) GenerateQuestions(ctx context.Context, req Requirement, n int) BatchResult {
	if n < 0 {
		n = 0
	}
	batch := BatchResult{
		Success:   true,
		Requested: n,
		Results:   make([]QuestionResult, 0, n),
	}

	for i := 0; i < n; i++ {
		capture.Printf(ctx, "[Coordinator] Generating question %d/%d", i+1, n)
		res := c.GenerateQuestion(ctx, req)
		if res.Success {
			batch.Completed++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, res)
	}

	c.logger.Info("batch generation finished", "requested", n, "completed", batch.Completed, "failed", batch.Failed)
	return batch
}

func failure(err error) QuestionResult {
	return QuestionResult{
		Success: false,
		Error:   err.Error(),
		Reason:  "Generation failed",
	}
}
