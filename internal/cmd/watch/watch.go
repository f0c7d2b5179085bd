// Package watch holds the long-running automation commands: watch, which
// saves after the host settles, and bootstrap, the startup sequence.
package watch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rhplus0831/risugit/internal/cmd/setup"
	"github.com/rhplus0831/risugit/internal/service"
	"github.com/urfave/cli/v3"
)

// Commands returns the automation sub-commands.
func Commands(st *setup.State) []*cli.Command {
	return []*cli.Command{watchCommand(st), bootstrapCommand(st)}
}

func bootstrapOptions(st *setup.State) service.BootstrapOptions {
	return service.BootstrapOptions{
		Pull:          st.Config.BootstrapPull,
		SaveOther:     st.Config.BootstrapSaveOther,
		SaveCharacter: st.Config.BootstrapSaveCharacter,
		PushAssets:    st.Config.BootstrapPushAssets,
	}
}

func bootstrapCommand(st *setup.State) *cli.Command {
	return &cli.Command{
		Name:  "bootstrap",
		Usage: "Run the startup sequence selected by the bootstrap options",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			return s.Bootstrap(ctx, bootstrapOptions(st))
		},
	}
}

func watchCommand(st *setup.State) *cli.Command {
	var bootstrap bool
	return &cli.Command{
		Name:  "watch",
		Usage: "Save the open chat whenever the host database settles",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "bootstrap", Destination: &bootstrap, Usage: "Run the bootstrap sequence first"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := st.Syncer(ctx)
			if err != nil {
				return err
			}
			cfg := st.Config
			if bootstrap {
				if err := s.Bootstrap(ctx, bootstrapOptions(st)); err != nil {
					return err
				}
			}
			if !cfg.SaveChatOnRequest {
				log.Warn("Chat saving on request is off; watch will not commit anything (enable git_on_request_save_chat)")
			}

			d := service.NewDebouncer(cfg.DebounceQuiet, func() {
				s.OnRequestsSettled(ctx, cfg.SaveChatOnRequest, cfg.AutomaticPush)
			})
			defer d.Stop()
			log.Info("Watching host database", "path", cfg.HostDBPath, "quiet", cfg.DebounceQuiet)
			return watchFile(ctx, cfg.HostDBPath, d)
		},
	}
}

// watchFile turns every write of path into a Begin/End pair on d until ctx
// is done. The parent directory is watched so atomic replacements count.
func watchFile(ctx context.Context, path string, d *service.Debouncer) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch: add %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Debug("Host database changed", "op", event.Op)
				d.Begin()
				d.End()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watch error", "err", err)
		}
	}
}
