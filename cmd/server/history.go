package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"paper-mimic/internal/history"
)

type styles struct {
	header lipgloss.Style
	id     lipgloss.Style
	count  lipgloss.Style
	date   lipgloss.Style
}

// newStyles renders for w, so piped output carries no escape codes.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("62")),
		id:     r.NewStyle().Foreground(lipgloss.Color("240")).Italic(true),
		count:  r.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		date:   r.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage past mimic runs",
	}
	cmd.AddCommand(newHistoryListCmd(opts), newHistoryShowCmd(opts), newHistoryDeleteCmd(opts))
	return cmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			items, err := newStore(cfg, logger).List()
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			printHistory(out, items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	return cmd
}

func printHistory(out io.Writer, items []history.Session) {
	if len(items) == 0 {
		fmt.Fprintln(out, "No history sessions found.")
		return
	}
	st := newStyles(out)
	fmt.Fprintln(out, st.header.Render(fmt.Sprintf("%d history sessions", len(items))))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tPAPER\tGENERATED\tID")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			st.date.Render(it.Timestamp),
			it.PaperName,
			st.count.Render(fmt.Sprintf("%d/%d", it.SuccessCount, it.TotalQuestions)),
			st.id.Render(it.ID))
	}
	tw.Flush()
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the metadata artifact of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			data, err := newStore(cfg, logger).Get(args[0])
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err = buf.WriteTo(cmd.OutOrStdout())
			return err
		},
	}
}

func newHistoryDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and all its files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := newStore(cfg, logger).Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted\n", args[0])
			return nil
		},
	}
}
