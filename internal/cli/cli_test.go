package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/raysh454/siteaudit/internal/app"
	"github.com/raysh454/siteaudit/internal/model"
	"github.com/raysh454/siteaudit/internal/stream"
	"github.com/raysh454/siteaudit/internal/testutil"
)

const (
	target     = "https://target.example"
	competitor = "https://rival.example"
)

func writeConfig(t *testing.T, dataDir string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "siteaudit.yaml")
	body := "data_dir: " + dataDir + "\n" +
		"log:\n  level: error\n" +
		"render:\n  enabled: false\n" +
		"jobs:\n  language: fr\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newRunner() *testutil.ScriptedRunner {
	return &testutil.ScriptedRunner{Scripts: map[string][]model.Event{
		target:     testutil.CompletedScript(target, 3, 80),
		competitor: testutil.CompletedScript(competitor, 3, 60),
	}}
}

func run(t *testing.T, runner *testutil.ScriptedRunner, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(app.WithRunner(runner), app.WithAlerter(&testutil.DummyAlerter{}))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// ─── Config ────────────────────────────────────────────────────────────

func TestLoad_ConfigFileOverridesDefaults(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	c := &cli{v: viper.New(), cfgFile: writeConfig(t, dataDir)}
	if err := c.load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.cfg.DataDir != dataDir {
		t.Errorf("DataDir = %q, want %q", c.cfg.DataDir, dataDir)
	}
	if c.cfg.Render.Enabled {
		t.Error("render should be disabled by the file")
	}
	if c.cfg.Jobs.Language != "fr" {
		t.Errorf("Language = %q, want fr", c.cfg.Jobs.Language)
	}
	// Keys absent from the file keep their defaults.
	if c.cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", c.cfg.Server.ListenAddr)
	}
	if c.cfg.Jobs.Retention == 0 {
		t.Error("Retention lost its default")
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	t.Parallel()
	c := &cli{v: viper.New(), cfgFile: filepath.Join(t.TempDir(), "nope.yaml")}
	if err := c.load(); err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}

func TestLoad_BadLogLevel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := &cli{v: viper.New(), cfgFile: path}
	if err := c.load(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestExecute_EnvironmentOverride(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SITEAUDIT_DATA_DIR", dataDir)
	t.Setenv("SITEAUDIT_LOG_LEVEL", "error")

	out, err := run(t, newRunner(), "recover")
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if !strings.Contains(out, "recovered 0 task(s)") {
		t.Errorf("output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(dataDir, "siteaudit.db")); err != nil {
		t.Errorf("database not created under env data dir: %v", err)
	}
}

// ─── Scan ──────────────────────────────────────────────────────────────

func TestScan_StreamsNDJSON(t *testing.T) {
	t.Parallel()
	runner := newRunner()
	cfg := writeConfig(t, t.TempDir())

	out, err := run(t, runner, "--config", cfg, "scan", target)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	final, logs, err := stream.Collect(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(logs) != 3 {
		t.Errorf("logs = %d, want 3", len(logs))
	}
	if final.Type != model.EventComplete || final.Result == nil || final.Result.GlobalScore != 80 {
		t.Fatalf("final = %+v", final)
	}

	reqs := runner.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0].Language != "fr" {
		t.Errorf("Language = %q, want config default fr", reqs[0].Language)
	}
	if !reqs[0].Allowed.Has(model.FeatureDeep) {
		t.Error("operator scans without --plan should get every feature")
	}
}

func TestScan_PlanFlagRestrictsFeatures(t *testing.T) {
	t.Parallel()
	runner := newRunner()
	cfg := writeConfig(t, t.TempDir())

	if _, err := run(t, runner, "--config", cfg, "scan", "--plan", "free", "--lang", "en", target); err != nil {
		t.Fatalf("scan: %v", err)
	}
	req := runner.Requests()[0]
	if req.Allowed.Has(model.FeatureDeep) {
		t.Error("free plan must not allow deep scan")
	}
	if req.Language != "en" {
		t.Errorf("Language = %q, want en", req.Language)
	}
}

func TestScan_ErrorEventFails(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	_, err := run(t, newRunner(), "--config", cfg, "scan", "https://unknown.example")
	if !errors.Is(err, ErrScanFailed) {
		t.Fatalf("err = %v, want ErrScanFailed", err)
	}
}

func TestScan_InvalidURL(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	runner := newRunner()
	_, err := run(t, runner, "--config", cfg, "scan", "ftp://example.com")
	if !errors.Is(err, model.ErrInvalidURL) {
		t.Fatalf("err = %v, want ErrInvalidURL", err)
	}
	if n := len(runner.Requests()); n != 0 {
		t.Errorf("runner called %d times", n)
	}
}

func TestBattle_DeclaresWinner(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	out, err := run(t, newRunner(), "--config", cfg, "battle", target, competitor)
	if err != nil {
		t.Fatalf("battle: %v", err)
	}
	final, _, err := stream.Collect(strings.NewReader(out))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if final.Battle == nil || final.Battle.Winner != model.WinnerTarget {
		t.Fatalf("final = %+v", final)
	}
}

// ─── Monitors ──────────────────────────────────────────────────────────

func TestMonitor_AddAndList(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	runner := newRunner()

	out, err := run(t, runner, "--config", cfg, "monitor", "add", "--email", "Ops@Example.com",
		"--frequency", "weekly", "--day", "2", "--hour", "6", target)
	if err != nil {
		t.Fatalf("monitor add: %v", err)
	}
	if !strings.Contains(out, `"frequency": "weekly"`) || !strings.Contains(out, `"check_day": 2`) {
		t.Errorf("add output = %s", out)
	}

	out, err = run(t, runner, "--config", cfg, "monitor", "list", "--email", "ops@example.com")
	if err != nil {
		t.Fatalf("monitor list: %v", err)
	}
	if !strings.Contains(out, target) || !strings.Contains(out, "weekly") {
		t.Errorf("list output = %s", out)
	}
}

func TestMonitor_AddRequiresEmail(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	_, err := run(t, newRunner(), "--config", cfg, "monitor", "add", target)
	if !errors.Is(err, ErrNoOwner) {
		t.Fatalf("err = %v, want ErrNoOwner", err)
	}
}

func TestMonitor_AddRejectsBadHour(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	_, err := run(t, newRunner(), "--config", cfg, "monitor", "add", "--email", "a@b.c", "--hour", "24", target)
	if !errors.Is(err, model.ErrInvalidHour) {
		t.Fatalf("err = %v, want ErrInvalidHour", err)
	}
}

// ─── Watchdog ──────────────────────────────────────────────────────────

func TestWatchdog_OnceWithoutMonitors(t *testing.T) {
	t.Parallel()
	cfg := writeConfig(t, t.TempDir())
	out, err := run(t, newRunner(), "--config", cfg, "watchdog", "--once")
	if err != nil {
		t.Fatalf("watchdog --once: %v", err)
	}
	if !strings.Contains(out, "due=0 checked=0 failed=0 alerts=0 skipped=0") {
		t.Errorf("output = %q", out)
	}
}
