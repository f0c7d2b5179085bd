package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/snapshot"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/urfave/cli/v3"
)

func showCommand(st *setup.State) *cli.Command {
	var query string
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a decrypted snapshot file at a revision",
		ArgsUsage: "<revision> <path>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Destination: &query, Usage: "jq filter applied to the document"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return syncerr.Config("show needs <revision> <path>")
			}
			rev, path := cmd.Args().Get(0), cmd.Args().Get(1)
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			raw, err := s.ReadAt(ctx, rev, path)
			if err != nil {
				return err
			}
			if raw == nil {
				return fmt.Errorf("%s does not exist at %s", path, rev)
			}
			return printQuery(ctx, setup.Out(cmd), raw, query)
		},
	}
}

// printQuery writes each result of the jq filter, or the whole document
// when query is empty, as indented JSON.
func printQuery(ctx context.Context, w io.Writer, raw json.RawMessage, query string) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("show: decode: %w", err)
	}
	if query == "" {
		return writeJSON(w, doc)
	}
	q, err := gojq.Parse(query)
	if err != nil {
		return syncerr.Config(fmt.Sprintf("invalid --query: %v", err))
	}
	iter := q.RunWithContext(ctx, doc)
	for {
		v, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := v.(error); isErr {
			return fmt.Errorf("show: query: %w", err)
		}
		if err := writeJSON(w, v); err != nil {
			return err
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func diffCommand(st *setup.State) *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "Fetch and compare the local and remote snapshots",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			local, remote, err := s.Diff(ctx)
			if err != nil {
				return err
			}
			diff, err := renderDiff(local, remote)
			if err != nil {
				return err
			}
			out := setup.Out(cmd)
			if diff == "" {
				fmt.Fprintln(out, "Local and remote snapshots match")
				return nil
			}
			_, err = io.WriteString(out, diff)
			return err
		},
	}
}

// renderDiff returns a unified diff of the two summaries as indented JSON,
// or "" when they are equal.
func renderDiff(local, remote *snapshot.Summary) (string, error) {
	a, err := json.MarshalIndent(local, "", "  ")
	if err != nil {
		return "", fmt.Errorf("diff: encode local: %w", err)
	}
	b, err := json.MarshalIndent(remote, "", "  ")
	if err != nil {
		return "", fmt.Errorf("diff: encode remote: %w", err)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a) + "\n"),
		B:        difflib.SplitLines(string(b) + "\n"),
		FromFile: "local",
		ToFile:   "remote",
		Context:  3,
	})
}
