package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/logging"
	"github.com/raysh454/siteaudit/internal/server"
)

func (c *cli) serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the watchdog scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.withApp(ctx, func(a *app.Application) error {
				return c.serve(ctx, a)
			})
		},
	}
	cmd.Flags().String("addr", app.DefaultConfig().Server.ListenAddr, "listen address")
	cmd.Flags().Bool("watchdog", true, "run the monitor scheduler alongside the API")
	c.bindFlags(cmd.Flags(), map[string]string{
		"server.listen_addr": "addr",
		"watchdog.enabled":   "watchdog",
	})
	return cmd
}

// serve blocks until ctx is done, then drains the HTTP server within the
// configured shutdown timeout.
func (c *cli) serve(ctx context.Context, a *app.Application) error {
	log := c.logger.With(logging.F("component", "serve"))

	if n, err := a.Recover(ctx); err != nil {
		log.Warn("recovering interrupted tasks", logging.Err(err))
	} else if n > 0 {
		log.Info("marked interrupted tasks failed", logging.F("count", n))
	}

	var wg sync.WaitGroup
	if c.cfg.Watchdog.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Watchdog.Run(ctx)
		}()
	}

	srv := server.New(a).HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", logging.F("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			serveErr = fmt.Errorf("graceful shutdown: %w", err)
		}
	}
	wg.Wait()
	return serveErr
}
