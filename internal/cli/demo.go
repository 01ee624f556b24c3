package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/siteaudit/internal/demosite"
	"github.com/raysh454/siteaudit/internal/logging"
)

func (c *cli) demoCommand() *cobra.Command {
	cfg := demosite.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Serve a versioned demo site for trying monitors and regressions",
		Long: `Serve a small website whose pages can be switched to regressed versions.

  POST /demo/bump              advance every page one version
  POST /demo/reset             back to the initial version
  POST /demo/version?path=&v=  pin one page
  GET  /demo/versions          current state`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := demosite.New(cfg, c.logger).HTTPServer()
			errCh := make(chan error, 1)
			go func() {
				c.logger.Info("demo site listening", logging.F("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()
			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	cmd.Flags().IntVar(&cfg.InitialVersion, "initial-version", cfg.InitialVersion, "version every page starts at")
	return cmd
}
