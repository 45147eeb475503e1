package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"curio/api/internal/reconstruct"
	"curio/api/internal/sequence"
)

func newEdgesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "edges <board.json>",
		Short: "List the edges the node positions call for",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, result, err := opts.settle(cmd, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, map[string]any{"edges": result.Edges, "diagnostics": result.Diagnostics})
			}
			heading.Fprintf(out, "%d edge(s)\n", len(result.Edges))
			for _, edge := range result.Edges {
				fmt.Fprintf(out, "  %s -> %s ", edge.Source, edge.Target)
				subtle.Fprintf(out, "(%s)\n", edge.Kind)
			}
			printDiagnostics(out, result.Diagnostics)
			return nil
		},
	}
}

func newSequenceCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sequence <board.json>",
		Short: "Walk the linked chains from each segment header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, settled, err := opts.settle(cmd, args[0])
			if err != nil {
				return err
			}
			result := sequence.Build(board.Nodes, board.Edges)
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, result)
			}
			for _, seq := range result.Sequences {
				accent.Fprintf(out, "%s", seq.Anchor.ID)
				for _, id := range seq.IDs()[1:] {
					fmt.Fprintf(out, " -> %s", id)
				}
				fmt.Fprintln(out)
			}
			if len(result.Unreached) > 0 {
				subtle.Fprintf(out, "unreached: %s\n", strings.Join(result.Unreached, ", "))
			}
			printDiagnostics(out, settled.Diagnostics)
			printDiagnostics(out, result.Diagnostics)
			return nil
		},
	}
}

func newReconstructCmd(opts *options) *cobra.Command {
	var render, markers bool
	cmd := &cobra.Command{
		Use:   "reconstruct <board.json>",
		Short: "Rebuild the article text from the board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board, _, err := opts.settle(cmd, args[0])
			if err != nil {
				return err
			}
			doc := reconstruct.FromResult(sequence.Build(board.Nodes, board.Edges))
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return writeJSON(out, doc)
			}

			text := doc.Text
			if render && text != "" {
				renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
				if err != nil {
					return fmt.Errorf("markdown renderer: %w", err)
				}
				if text, err = renderer.Render(text); err != nil {
					return fmt.Errorf("render markdown: %w", err)
				}
			}
			if text == "" {
				subtle.Fprintln(out, "(no text: no item is linked to a segment)")
			} else {
				fmt.Fprintln(out, strings.TrimRight(text, "\n"))
			}

			if markers && len(doc.Markers.Entries) > 0 {
				fmt.Fprintln(out)
				heading.Fprintln(out, "markers")
				for _, m := range doc.Markers.Entries {
					accent.Fprintf(out, "  %-6s", m.Marker)
					fmt.Fprintf(out, " %s ", m.Title)
					subtle.Fprintf(out, "(%s)\n", m.NodeID)
				}
			}
			if len(doc.Skipped) > 0 {
				subtle.Fprintf(out, "skipped: %s\n", strings.Join(doc.Skipped, ", "))
			}
			printDiagnostics(out, doc.Diagnostics)
			return nil
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "Render the text as terminal markdown")
	cmd.Flags().BoolVar(&markers, "markers", false, "List the marker to title mapping")
	return cmd
}
