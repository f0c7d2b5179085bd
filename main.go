package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/rhplus0831/risugit/internal/cmd/assets"
	"github.com/rhplus0831/risugit/internal/cmd/backup"
	"github.com/rhplus0831/risugit/internal/cmd/migrate"
	"github.com/rhplus0831/risugit/internal/cmd/remote"
	"github.com/rhplus0831/risugit/internal/cmd/serve"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/cmd/watch"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := setup.New()
	commands := backup.Commands(st)
	commands = append(commands, remote.Commands(st)...)
	commands = append(commands, assets.Command(st))
	commands = append(commands, watch.Commands(st)...)
	commands = append(commands, serve.Command(&st.Config), migrate.Command(&st.Config))

	app := &cli.Command{
		Name:     "risugit",
		Usage:    "Encrypted git backup and asset sync for RisuAI data",
		Flags:    st.Flags(),
		Before:   st.Before,
		Commands: commands,
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
