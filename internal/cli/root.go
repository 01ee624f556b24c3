// Package cli wires the siteaudit commands: the HTTP service, one-shot scans
// and battles, the watchdog scheduler and monitor management.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. SITEAUDIT_SERVER_LISTEN_ADDR.
const EnvPrefix = "SITEAUDIT"

var envKeys = []string{
	"server.listen_addr",
	"store.driver",
	"store.dsn",
	"render.enabled",
	"render.remote_url",
	"watchdog.enabled",
	"alert.webhook_url",
	"metrics.enabled",
}

type cli struct {
	v       *viper.Viper
	cfgFile string
	opts    []app.Option

	cfg    *app.Config
	logger *logging.ZapLogger
}

// NewRootCommand builds the command tree. opts are passed to every
// Application the commands open.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	c := &cli{v: viper.New(), opts: opts}

	root := &cobra.Command{
		Use:           "siteaudit",
		Short:         "Audit websites for SEO, security, privacy and performance",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (default is $HOME/.siteaudit.yaml)")
	defaults := app.DefaultConfig()
	pf.String("data-dir", defaults.DataDir, "directory holding the database and screenshots")
	pf.String("log-level", defaults.Log.Level, "log level: debug, info, warn or error")
	pf.String("log-format", defaults.Log.Format, "log format: json or console")
	c.bindFlags(pf, map[string]string{
		"data_dir":   "data-dir",
		"log.level":  "log-level",
		"log.format": "log-format",
	})

	root.AddCommand(
		c.serveCommand(),
		c.scanCommand(),
		c.battleCommand(),
		c.watchdogCommand(),
		c.recoverCommand(),
		c.monitorCommand(),
		c.demoCommand(),
	)
	return root
}

// Execute runs the root command against os.Args and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// load reads the config file and environment into the defaults and builds
// the logger.
func (c *cli) load() error {
	if c.cfgFile != "" {
		c.v.SetConfigFile(c.cfgFile)
	} else {
		c.v.AddConfigPath("$HOME")
		c.v.SetConfigName(".siteaudit")
		c.v.SetConfigType("yaml")
	}
	c.v.SetEnvPrefix(EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range envKeys {
		_ = c.v.BindEnv(key)
	}

	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg := app.DefaultConfig()
	if err := c.v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}

// bindFlags maps config keys to flag names in fs.
func (c *cli) bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := fs.Lookup(name); f != nil {
			_ = c.v.BindPFlag(key, f)
		}
	}
}

func (c *cli) open(ctx context.Context) (*app.Application, error) {
	return app.New(ctx, c.cfg, c.logger, c.opts...)
}

// withApp opens the Application for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(*app.Application) error) (err error) {
	a, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
