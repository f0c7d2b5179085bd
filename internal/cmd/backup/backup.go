// Package backup holds the commands that write and read the local snapshot
// repository: save, restore, log, show, diff and usage.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/urfave/cli/v3"
)

// Commands returns the snapshot sub-commands.
func Commands(st *setup.State) []*cli.Command {
	return []*cli.Command{
		saveCommand(st),
		restoreCommand(st),
		logCommand(st),
		showCommand(st),
		diffCommand(st),
		usageCommand(st),
	}
}

func saveCommand(st *setup.State) *cli.Command {
	var other, current bool
	var charID, chatID, message string
	return &cli.Command{
		Name:  "save",
		Usage: "Commit the host data to the snapshot repository",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "other", Destination: &other, Usage: "Save only the auxiliary collections"},
			&cli.StringFlag{Name: "character", Destination: &charID, Usage: "Save only this character"},
			&cli.StringFlag{Name: "chat", Destination: &chatID, Usage: "With --character, save only this chat"},
			&cli.BoolFlag{Name: "current", Destination: &current, Usage: "Save the chat the host has open"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Destination: &message, Usage: "Commit message"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if chatID != "" && charID == "" {
				return syncerr.Config("--chat needs --character")
			}
			if current && (other || charID != "") {
				return syncerr.Config("--current cannot be combined with --other or --character")
			}
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}

			var hash plumbing.Hash
			switch {
			case current:
				hash, err = s.SaveCurrentChat(ctx)
			case other:
				hash, err = s.SaveOther(ctx, message)
			case chatID != "":
				hash, err = s.SaveChat(ctx, charID, chatID, message)
			case charID != "":
				hash, err = s.SaveCharacter(ctx, charID, message)
			default:
				hash, err = s.SaveAll(ctx, message)
			}
			if err != nil {
				return err
			}

			out := setup.Out(cmd)
			if hash.IsZero() {
				fmt.Fprintln(out, "Nothing to save")
				return nil
			}
			fmt.Fprintln(out, hash)
			if st.Config.AutomaticPush && s.Repo.HasRemote() {
				return s.Push(ctx)
			}
			return nil
		},
	}
}

func restoreCommand(st *setup.State) *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Replace the host data with a snapshot; without a revision, the branch tip",
		ArgsUsage: "[revision]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			return s.Restore(ctx, cmd.Args().First())
		},
	}
}

func logCommand(st *setup.State) *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:  "log",
		Usage: "List snapshot history, newest first",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Destination: &asJSON, Usage: "Print JSON"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			revs, err := s.History(ctx)
			if err != nil {
				return err
			}
			out := setup.Out(cmd)
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(revs)
			}
			for _, r := range revs {
				subject, _, _ := strings.Cut(r.Message, "\n")
				fmt.Fprintf(out, "%.7s  %s  %-12s %s\n", r.Hash, r.When.Local().Format(time.DateTime), r.Author, subject)
			}
			return nil
		},
	}
}

func usageCommand(st *setup.State) *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "Show the disk footprint of the data dir",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			u, err := s.Usage(ctx)
			if err != nil {
				return err
			}
			out := setup.Out(cmd)
			fmt.Fprintf(out, "git:      %s in %d files\n", formatBytes(u.GitBytes), u.GitFiles)
			fmt.Fprintf(out, "snapshot: %s in %d files\n", formatBytes(u.WorktreeBytes), u.WorktreeFiles)
			fmt.Fprintf(out, "total:    %s\n", formatBytes(u.TotalBytes()))
			return nil
		},
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
