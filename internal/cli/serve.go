package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nammalakes/nodeup/internal/server"
	"github.com/nammalakes/nodeup/pkg/logging"
)

var (
	serveListen       string
	serveDrainTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP update service",
	Long: `Run the HTTP update service.

Endpoints:
  POST /update-node?node_id=<id>
  POST /update-multiple-nodes?node_ids=<id>&node_ids=<id>
  GET  /nodes
  GET  /healthz
  GET  /metrics

On SIGINT or SIGTERM the service stops accepting requests and waits for
in-flight updates to finish, up to --drain-timeout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.Server.Listen = serveListen
		}

		a, err := newApp(cfg, nil)
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", cfg.Server.Listen)
		if err != nil {
			a.close(context.Background())
			return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveUntilDone(ctx, a, ln, serveDrainTimeout)
	},
}

// serveUntilDone serves on ln until ctx is cancelled or the server fails,
// then drains in-flight updates.
func serveUntilDone(ctx context.Context, a *app, ln net.Listener, drain time.Duration) error {
	srv := server.New(a.orch, a.registry, a.metrics)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		a.close(context.Background())
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", map[string]any{"drain_timeout": drain.String()})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorErr("http shutdown", err)
	}
	if err := a.close(shutdownCtx); err != nil {
		return fmt.Errorf("drain in-flight updates: %w", err)
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().DurationVar(&serveDrainTimeout, "drain-timeout", 15*time.Minute, "how long shutdown waits for in-flight updates")
	rootCmd.AddCommand(serveCmd)
}
