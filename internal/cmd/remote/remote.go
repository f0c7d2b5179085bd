// Package remote holds the commands that talk to the git remote.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/syncerr"
	"github.com/urfave/cli/v3"
)

// Commands returns the remote sub-commands.
func Commands(st *setup.State) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "push",
			Usage: "Send local snapshots to the remote",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				s, err := st.Syncer(ctx)
				if err != nil {
					return err
				}
				err = s.Push(ctx)
				if errors.Is(err, syncerr.ErrPushRejected) {
					log.Warn("The remote has snapshots this machine lacks; run pull, or merge if pull reports divergence")
				}
				return err
			},
		},
		pullCommand(st),
		mergeCommand(st),
		{
			Name:  "reclone",
			Usage: "Drop local history and fetch the remote again, honouring --depth",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				s, err := st.Syncer(ctx)
				if err != nil {
					return err
				}
				return s.Reclone(ctx)
			},
		},
	}
}

func pullCommand(st *setup.State) *cli.Command {
	var restore bool
	return &cli.Command{
		Name:  "pull",
		Usage: "Fast-forward to the remote snapshots",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "restore", Destination: &restore, Usage: "Restore the host data after pulling"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			err = s.Pull(ctx)
			if errors.Is(err, syncerr.ErrDiverged) {
				log.Warn("Local and remote diverged; resolve with: risugit merge --prefer local|remote")
			}
			if err != nil || !restore {
				return err
			}
			return s.Restore(ctx, "")
		},
	}
}

func mergeCommand(st *setup.State) *cli.Command {
	var prefer string
	return &cli.Command{
		Name:  "merge",
		Usage: "Resolve a divergence by keeping one side's snapshot whole",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prefer", Destination: &prefer, Required: true, Usage: "local|remote"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			preferLocal, err := parsePrefer(prefer)
			if err != nil {
				return err
			}
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			hash, err := s.Merge(ctx, preferLocal)
			if err != nil {
				return err
			}
			fmt.Fprintln(setup.Out(cmd), hash)
			if !preferLocal {
				return s.Restore(ctx, "")
			}
			return nil
		},
	}
}

func parsePrefer(v string) (bool, error) {
	switch v {
	case "local":
		return true, nil
	case "remote":
		return false, nil
	default:
		return false, syncerr.Config(fmt.Sprintf("--prefer must be local or remote, not %q", v))
	}
}
