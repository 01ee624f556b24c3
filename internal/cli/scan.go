package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/features"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/stream"
)

// ErrScanFailed is returned when the stream ends with an error event.
var ErrScanFailed = errors.New("scan failed")

type scanFlags struct {
	user string
	plan string
	lang string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "user", "", "owner id; ad-hoc audits are saved under it")
	cmd.Flags().StringVar(&f.plan, "plan", "", "plan whose features apply (default: the user's plan, or admin)")
	cmd.Flags().StringVar(&f.lang, "lang", "", "report language (default from jobs.language)")
}

func (c *cli) request(ctx context.Context, a *app.Application, f *scanFlags, url string) model.ScanRequest {
	plan := f.plan
	if plan == "" {
		plan = features.PlanAdmin
		if f.user != "" {
			plan = a.PlanFor(ctx, f.user)
		}
	}
	lang := f.lang
	if lang == "" {
		lang = c.cfg.Jobs.Language
	}
	return model.ScanRequest{URL: url, Language: lang, Allowed: a.Gate.Allowed(plan)}
}

func (c *cli) scanCommand() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Audit one URL and stream NDJSON events to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := model.ValidateTargetURL(args[0]); err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				req := c.request(cmd.Context(), a, &f, args[0])
				return pipe(cmd, a.RunScan(cmd.Context(), f.user, req))
			})
		},
	}
	f.register(cmd)
	return cmd
}

func (c *cli) battleCommand() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "battle <url> <competitor-url>",
		Short: "Audit two URLs side by side and declare a winner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, u := range args {
				if err := model.ValidateTargetURL(u); err != nil {
					return fmt.Errorf("%s: %w", u, err)
				}
			}
			return c.withApp(cmd.Context(), func(a *app.Application) error {
				target := c.request(cmd.Context(), a, &f, args[0])
				competitor := target
				competitor.URL = args[1]
				return pipe(cmd, a.RunBattle(cmd.Context(), f.user, target, competitor))
			})
		},
	}
	f.register(cmd)
	return cmd
}

// pipe writes events to the command output and reports a terminal error
// event as a failure. The channel is always drained.
func pipe(cmd *cobra.Command, events <-chan model.Event) error {
	enc := stream.NewEncoder(cmd.OutOrStdout())
	var (
		last model.Event
		werr error
	)
	for ev := range events {
		if werr == nil {
			werr = enc.Encode(ev)
		}
		last = ev
	}
	if werr != nil {
		return werr
	}
	if err := cmd.Context().Err(); err != nil {
		return err
	}
	if last.Type == model.EventError {
		return fmt.Errorf("%w: %s", ErrScanFailed, last.Message)
	}
	return nil
}
