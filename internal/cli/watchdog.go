package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/raysh454/siteaudit/internal/app"
)

func (c *cli) watchdogCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "watchdog",
		Short: "Run the monitor scheduler without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.withApp(ctx, func(a *app.Application) error {
				if !once {
					a.Watchdog.Run(ctx)
					return nil
				}
				sum, err := a.Watchdog.Tick(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, r := range sum.Results {
					switch {
					case r.Err != nil:
						printf(out, "%s\terror\t%v\n", r.MonitorID, r.Err)
					case r.Alerted:
						printf(out, "%s\t%d\talert\n", r.MonitorID, r.Score)
					default:
						printf(out, "%s\t%d\tok\n", r.MonitorID, r.Score)
					}
				}
				printf(out, "due=%d checked=%d failed=%d alerts=%d skipped=%d\n", sum.Due, sum.Checked, sum.Failed, sum.Alerts, sum.Skipped)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "evaluate every monitor once and exit")
	return cmd
}

func (c *cli) recoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Mark tasks left unfinished by a previous process as failed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				n, err := a.Recover(cmd.Context())
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "recovered %d task(s)\n", n)
				return nil
			})
		},
	}
}
