package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/features"
	"github.com/raysh454/siteaudit/internal/model"
)

// ErrNoOwner is returned when a monitor command names no user.
var ErrNoOwner = errors.New("--email is required")

func (c *cli) monitorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Manage scheduled monitors",
	}
	cmd.AddCommand(c.monitorAddCommand(), c.monitorListCommand(), c.monitorPauseCommand())
	return cmd
}

func (c *cli) monitorAddCommand() *cobra.Command {
	var (
		email     string
		plan      string
		frequency string
		hour      int
		day       int
		threshold int
	)
	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Create a monitor, creating the owner if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return ErrNoOwner
			}
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				u, err := a.Store.EnsureUser(cmd.Context(), email, plan)
				if err != nil {
					return err
				}
				m := &model.Monitor{
					UserID:         u.ID,
					URL:            args[0],
					Cadence:        model.Cadence(frequency),
					PreferredHour:  hour,
					AlertThreshold: threshold,
				}
				if cmd.Flags().Changed("day") {
					m.PreferredWeekday = &day
				}
				if err := a.Store.CreateMonitor(cmd.Context(), m); err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&email, "email", "", "owner email")
	f.StringVar(&plan, "plan", features.PlanFree, "plan for a newly created owner")
	f.StringVar(&frequency, "frequency", string(model.CadenceDaily), "daily or weekly")
	f.IntVar(&hour, "hour", 9, "UTC hour to check at (0-23)")
	f.IntVar(&day, "day", 0, "weekday for weekly checks, 0=Monday")
	f.IntVar(&threshold, "threshold", model.DefaultAlertThreshold, "score drop that raises an alert")
	return cmd
}

func (c *cli) monitorListCommand() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List monitors, all active ones or those of one owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				var (
					monitors []*model.Monitor
					err      error
				)
				if email != "" {
					u, uerr := a.Store.GetUserByEmail(cmd.Context(), email)
					if uerr != nil {
						return fmt.Errorf("%s: %w", email, uerr)
					}
					monitors, err = a.Store.ListMonitorsByUser(cmd.Context(), u.ID)
				} else {
					monitors, err = a.Store.ListActiveMonitors(cmd.Context())
				}
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				printf(tw, "ID\tURL\tFREQUENCY\tLAST SCORE\tACTIVE\n")
				for _, m := range monitors {
					score := "-"
					if m.LastScore != nil {
						score = fmt.Sprint(*m.LastScore)
					}
					printf(tw, "%s\t%s\t%s\t%s\t%t\n", m.ID, m.URL, m.Cadence, score, m.Active)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "only monitors owned by this email")
	return cmd
}

func (c *cli) monitorPauseCommand() *cobra.Command {
	var resume bool
	cmd := &cobra.Command{
		Use:   "pause <monitor-id>",
		Short: "Stop scheduling a monitor (or --resume it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				return a.Store.SetMonitorActive(cmd.Context(), args[0], resume)
			})
		},
	}
	cmd.Flags().BoolVar(&resume, "resume", false, "reactivate instead of pausing")
	return cmd
}
