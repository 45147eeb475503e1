package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"curio/api/internal/canvas"
	"curio/api/internal/config"
	"curio/api/internal/proximity"
)

var (
	heading = color.New(color.FgHiGreen, color.Bold)
	subtle  = color.New(color.FgHiBlack)
	warn    = color.New(color.FgYellow)
	accent  = color.New(color.FgCyan)
)

type options struct {
	configPath string
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "curate",
		Short: "Run the board curation pipeline on a saved board",
		Long: `curate links the nodes of a board JSON file by proximity, walks the
linked chains from their segment headers and rebuilds the article text.

A board file holds {"nodes": [...], "edges": [...]}; pass "-" to read stdin.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML proximity tuning file")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print machine readable JSON")

	root.AddCommand(newEdgesCmd(opts), newSequenceCmd(opts), newReconstructCmd(opts))
	return root
}

// Execute runs the command tree.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type boardFile struct {
	Nodes []canvas.Node `json:"nodes"`
	Edges []canvas.Edge `json:"edges"`
}

func readBoard(cmd *cobra.Command, path string) (boardFile, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return boardFile{}, fmt.Errorf("open board: %w", err)
		}
		defer f.Close()
		r = f
	}
	var board boardFile
	if err := json.NewDecoder(r).Decode(&board); err != nil {
		return boardFile{}, fmt.Errorf("decode board %s: %w", path, err)
	}
	return board, nil
}

func (o *options) tuning() (proximity.Config, error) {
	if o.configPath == "" {
		return proximity.DefaultConfig(), nil
	}
	return config.LoadProximity(o.configPath)
}

// settle loads the board and replaces its edges with the ones the
// geometry calls for, as the editor does on drop.
func (o *options) settle(cmd *cobra.Command, path string) (boardFile, proximity.Result, error) {
	board, err := readBoard(cmd, path)
	if err != nil {
		return boardFile{}, proximity.Result{}, err
	}
	cfg, err := o.tuning()
	if err != nil {
		return boardFile{}, proximity.Result{}, err
	}
	store := canvas.NewStore(board.Nodes, board.Edges)
	snap := store.Snapshot()
	result := proximity.NewEngine(cfg).Settle(snap.Nodes, snap.Edges)
	board.Nodes = snap.Nodes
	board.Edges = result.Edges
	return board, result, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDiagnostics(w io.Writer, diags []canvas.Diagnostic) {
	for _, d := range diags {
		warn.Fprintf(w, "! %s\n", d.String())
	}
}
