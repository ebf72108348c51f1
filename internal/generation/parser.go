package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/google/shlex"

	"paper-mimic/internal/capture"
)

// ErrParserNotConfigured is returned when an upload needs parsing but no
// parser command is set.
var ErrParserNotConfigured = errors.New("PDF parser not configured")

// Parser turns an exam PDF into a parsed paper directory.
type Parser interface {
	Parse(ctx context.Context, pdfPath, outDir string) (string, error)
}

// CommandParser runs an external command. {pdf} and {out} in the command
// line are replaced with the PDF path and the output directory. The
// command's stdout and stderr are captured into the session stream.
type CommandParser struct {
	Command string
	Logger  *slog.Logger
}

// Parse implements Parser. The output directory is returned as the paper
// directory.
func (p *CommandParser) Parse(ctx context.Context, pdfPath, outDir string) (string, error) {
	if strings.TrimSpace(p.Command) == "" {
		return "", ErrParserNotConfigured
	}
	args, err := shlex.Split(p.Command)
	if err != nil {
		return "", fmt.Errorf("parser command: %w", err)
	}
	if len(args) == 0 {
		return "", ErrParserNotConfigured
	}
	for i, a := range args {
		a = strings.ReplaceAll(a, "{pdf}", pdfPath)
		args[i] = strings.ReplaceAll(a, "{out}", outDir)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create parser output dir: %w", err)
	}

	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("running PDF parser", "command", args[0], "pdf", pdfPath, "out", outDir)

	out := capture.Output(ctx)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("parse PDF: %w", err)
	}
	return outDir, nil
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(ctx context.Context, pdfPath, outDir string) (string, error)

// Parse implements Parser.
func (f ParserFunc) Parse(ctx context.Context, pdfPath, outDir string) (string, error) {
	return f(ctx, pdfPath, outDir)
}
