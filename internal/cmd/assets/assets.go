// Package assets holds the asset transfer commands.
package assets

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/assetsync"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/service"
	"github.com/urfave/cli/v3"
)

// Command returns the assets sub-command.
func Command(st *setup.State) *cli.Command {
	return &cli.Command{
		Name:  "assets",
		Usage: "Transfer assets referenced by the host data to or from the asset server",
		Commands: []*cli.Command{
			{
				Name:  "push",
				Usage: "Upload every referenced asset the server lacks",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return transfer(ctx, cmd, st, "Pushing assets", (*service.Syncer).PushAssets)
				},
			},
			{
				Name:  "pull",
				Usage: "Download every referenced asset missing locally",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return transfer(ctx, cmd, st, "Pulling assets", (*service.Syncer).PullAssets)
				},
			},
		},
	}
}

type batchFunc func(*service.Syncer, context.Context, func(assetsync.Progress)) (assetsync.Summary, error)

func transfer(ctx context.Context, cmd *cli.Command, st *setup.State, label string, run batchFunc) error {
	s, err := st.Syncer(ctx)
	if err != nil {
		return err
	}
	sum, err := run(s, ctx, func(p assetsync.Progress) {
		log.Info(label, "done", p.Done, "total", p.Total)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(setup.Out(cmd), "%d transferred, %d already in place, %d failed\n", sum.Done, sum.Already, sum.Failed)
	if sum.Failed > 0 {
		return fmt.Errorf("%d assets failed; rerun to retry them", sum.Failed)
	}
	return nil
}
