package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"paper-mimic/internal/generation"
)

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		reference    string
		requirements string
		count        int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate questions from one reference question",
		Long: `Generate questions from one reference question.

The reference is taken from --reference, or read from standard input
when it is piped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return fmt.Errorf("--count must be positive, got %d", count)
			}
			if reference == "" {
				ref, err := readPipedReference(cmd.InOrStdin())
				if err != nil {
					return err
				}
				reference = ref
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			coord := newCoordinator(cfg, logger)
			batch := coord.GenerateQuestions(cmd.Context(), generation.Requirement{
				ReferenceQuestion:      reference,
				AdditionalRequirements: requirements,
			}, count)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(batch)
			}
			printBatch(out, batch)
			if batch.Completed == 0 {
				return errors.New("no questions generated")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&reference, "reference", "r", "", "Reference question text")
	cmd.Flags().StringVar(&requirements, "requirements", "", "Additional requirements for the generated questions")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of questions to generate")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the batch result as JSON")
	return cmd
}

func readPipedReference(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("a reference question is required: pass --reference or pipe it on stdin")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read reference: %w", err)
	}
	ref := strings.TrimSpace(string(data))
	if ref == "" {
		return "", errors.New("a reference question is required: pass --reference or pipe it on stdin")
	}
	return ref, nil
}

func printBatch(out io.Writer, batch generation.BatchResult) {
	st := newStyles(out)
	fmt.Fprintln(out, st.header.Render(fmt.Sprintf("Generated %d/%d questions", batch.Completed, batch.Requested)))
	for i, res := range batch.Results {
		if !res.Success {
			fmt.Fprintf(out, "%d. failed: %s\n", i+1, res.Error)
			continue
		}
		text, _ := res.Question["question"].(string)
		if text == "" {
			raw, _ := json.Marshal(res.Question)
			text = string(raw)
		}
		fmt.Fprintf(out, "%d. %s\n", i+1, text)
		if answer, ok := res.Question["answer"]; ok {
			fmt.Fprintf(out, "   %s %v\n", st.date.Render("answer:"), answer)
		}
	}
}
