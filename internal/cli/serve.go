package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fib-targets/internal/api"
)

func newServeCmd(app *App) *cobra.Command {
	var dbPath, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve persisted zones and signals over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(dbPath)
			if err != nil {
				return err
			}
			cfg := app.Config.API
			if addr != "" {
				cfg.Addr = addr
			}

			server := api.NewServer(cfg, st, app.Logger)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(shutdown)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "store path (default: [store] path)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: [api] addr)")
	return cmd
}
