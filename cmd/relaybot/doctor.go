package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

const doctorDivider = "────────────────────────────────────────"

// checkTally accumulates results as checks print.
type checkTally struct {
	passed int
	warned int
	failed int
}

func (t *checkTally) pass(name, detail string) {
	t.passed++
	fmt.Printf("  ok    %-22s %s\n", name, detail)
}

func (t *checkTally) warn(name, detail string) {
	t.warned++
	fmt.Printf("  warn  %-22s %s\n", name, detail)
}

func (t *checkTally) fail(name, detail string) {
	t.failed++
	fmt.Printf("  FAIL  %-22s %s\n", name, detail)
}

func (t *checkTally) summary() {
	fmt.Printf("\n%s\n", doctorDivider)
	fmt.Printf("Checks: %d ok, %d warnings, %d failures\n", t.passed, t.warned, t.failed)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your RelayBot installation",
		Long: `Verifies that RelayBot's configuration, messaging backends, workflow
database, and generation engine are correctly set up. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("RelayBot Doctor v%s\n%s\n\n", version, doctorDivider)

			var t checkTally

			if _, err := os.Stat(cfgPath); err != nil {
				t.fail("config file", "missing: "+cfgPath)
				fmt.Println("\nRun 'relaybot init' to create a starter config.")
				return nil
			}
			t.pass("config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				t.fail("config content", err.Error())
				t.summary()
				return nil
			}
			t.pass("config content", "loads and validates")

			checkDataDir(&t, cfg)
			checkWorkflowDB(&t, cfg)
			checkMail(&t, cfg)
			checkTelegram(&t, cfg)
			checkGeneration(&t, cfg)
			checkMetricsPort(&t, cfg)
			checkLogFile(&t, cfg)

			t.summary()
			switch {
			case t.failed > 0:
				fmt.Println("\nFix the failures above before starting RelayBot.")
				return fmt.Errorf("doctor found %d failing check(s)", t.failed)
			case t.warned > 0:
				fmt.Println("\nRelayBot should run; the warnings are worth a look.")
			default:
				fmt.Println("\nEverything checks out.")
			}
			return nil
		},
	}
}

func checkDataDir(t *checkTally, cfg *config.Config) {
	if cfg.General.DataDir == "" {
		t.warn("data directory", "unset; relative paths land in the working directory")
		return
	}
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		t.fail("data directory", fmt.Sprintf("cannot create: %v", err))
		return
	}
	t.pass("data directory", cfg.General.DataDir)
}

func checkWorkflowDB(t *checkTally, cfg *config.Config) {
	if !cfg.Workflows.Enabled {
		return
	}
	dbPath := cfg.Workflows.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(config.DefaultConfigDir(), "workflows.db")
	}
	if err := probeDatabase(dbPath); err != nil {
		t.fail("workflow db", err.Error())
		return
	}
	t.pass("workflow db", dbPath)
}

func checkMail(t *checkTally, cfg *config.Config) {
	switch {
	case !cfg.Mail.Enabled:
		t.warn("mail backend", "disabled")
	case cfg.Mail.BaseURL == "" && cfg.Mail.Fallback:
		t.warn("mail backend", "none configured, fetches serve demo data")
	case cfg.Mail.BaseURL == "":
		t.fail("mail backend", "none configured and fallback disabled")
	default:
		if err := probeHTTP(cfg.Mail.BaseURL); err != nil {
			t.warn("mail backend", fmt.Sprintf("unreachable: %v", err))
			return
		}
		t.pass("mail backend", cfg.Mail.BaseURL)
	}
}

func checkTelegram(t *checkTally, cfg *config.Config) {
	switch {
	case !cfg.Telegram.Enabled:
		t.warn("telegram bot", "disabled")
	case cfg.Telegram.Token == "":
		t.fail("telegram bot", "enabled but no token configured")
	default:
		t.pass("telegram bot", "token configured")
		if len(cfg.Telegram.AllowFrom) == 0 {
			t.warn("telegram allowlist", "empty, every user may talk to the bot")
		}
	}
}

func checkGeneration(t *checkTally, cfg *config.Config) {
	if !cfg.Generation.Enabled {
		t.warn("generation engine", "disabled, free-text turns get the command help")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gen := provider.NewOllama(provider.OllamaConfig{APIBase: cfg.Generation.APIBase, Logger: logger})
	if err := gen.Healthy(ctx); err != nil {
		t.warn("generation engine", fmt.Sprintf("%v (commands still work)", err))
		return
	}
	t.pass("generation engine", fmt.Sprintf("%s, model %s", cfg.Generation.APIBase, cfg.Generation.Model))
}

func checkMetricsPort(t *checkTally, cfg *config.Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	if err := probePort(cfg.Metrics.Port); err != nil {
		t.warn("metrics port", fmt.Sprintf("port %d may be in use: %v", cfg.Metrics.Port, err))
		return
	}
	t.pass("metrics port", fmt.Sprintf(":%d available", cfg.Metrics.Port))
}

func checkLogFile(t *checkTally, cfg *config.Config) {
	if cfg.General.LogFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
		t.warn("log file", fmt.Sprintf("cannot create parent directory: %v", err))
		return
	}
	t.pass("log file", cfg.General.LogFile)
}

// probeDatabase opens the workflow database and round-trips a throwaway
// table to prove it is writable.
func probeDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _relaybot_probe (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("write probe: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _relaybot_probe")
	return nil
}

// probeHTTP considers any HTTP response proof of reachability; auth errors
// still mean the backend is there.
func probeHTTP(baseURL string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(baseURL)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func probePort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}
