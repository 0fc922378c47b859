package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"garvis/internal/memory"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the Garvis setup",
		Long: `Verifies the configuration, channel credentials, task store, and HTTP port.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout())
		},
	}
}

type doctor struct {
	out                    io.Writer
	passed, failed, warned int
}

func (d *doctor) pass(check, detail string) {
	d.passed++
	fmt.Fprintf(d.out, "  [PASS] %-20s %s\n", check, detail)
}

func (d *doctor) fail(check, detail string) {
	d.failed++
	fmt.Fprintf(d.out, "  [FAIL] %-20s %s\n", check, detail)
}

func (d *doctor) warn(check, detail string) {
	d.warned++
	fmt.Fprintf(d.out, "  [WARN] %-20s %s\n", check, detail)
}

func runDoctor(out io.Writer) error {
	d := &doctor{out: out}
	fmt.Fprintf(out, "Garvis Doctor %s\n", version)
	fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	path := resolveConfigPath()
	if _, err := os.Stat(path); err != nil {
		d.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", path))
	} else {
		d.pass("Config file", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		d.fail("Config validation", err.Error())
		return d.summary()
	}
	d.pass("Config validation", "valid ("+cfg.App.Env+")")

	if !cfg.Slack.Enabled && !cfg.Telegram.Enabled {
		d.warn("Channels", "none enabled; only 'garvis chat' and 'garvis ask' will work")
	}
	if cfg.Slack.Enabled {
		d.pass("Slack", "tokens present, slash command "+cfg.Slack.SlashCommand)
	}
	if cfg.Telegram.Enabled {
		if len(cfg.Telegram.AllowFrom) == 0 {
			d.warn("Telegram", "token present, no allowFrom list: anyone can talk to the bot")
		} else {
			d.pass("Telegram", fmt.Sprintf("token present, %d allowed users", len(cfg.Telegram.AllowFrom)))
		}
	}

	if err := checkTaskStore(cfg.Agents.TaskStoreDSN); err != nil {
		d.fail("Task store", err.Error())
	} else if cfg.Agents.TaskStoreDSN == "" {
		d.pass("Task store", "in-memory (tasks are lost on restart)")
	} else {
		d.pass("Task store", cfg.Agents.TaskStoreDSN)
	}

	if cfg.App.Port > 0 {
		if err := checkPort(cfg.App.Port); err != nil {
			d.warn("HTTP port", fmt.Sprintf("port %d may be in use: %v", cfg.App.Port, err))
		} else {
			d.pass("HTTP port", fmt.Sprintf(":%d available", cfg.App.Port))
		}
	}

	if cfg.App.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.App.LogFile), 0o755); err != nil {
			d.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
		} else {
			d.pass("Log file", cfg.App.LogFile)
		}
	}

	return d.summary()
}

func (d *doctor) summary() error {
	fmt.Fprintf(d.out, "\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(d.out, "Results: %d passed, %d warnings, %d failed\n", d.passed, d.warned, d.failed)
	switch {
	case d.failed > 0:
		fmt.Fprintf(d.out, "\nPlease fix the failed checks before running Garvis.\n")
		return fmt.Errorf("%d check(s) failed", d.failed)
	case d.warned > 0:
		fmt.Fprintf(d.out, "\nGarvis should work but consider fixing the warnings.\n")
	default:
		fmt.Fprintf(d.out, "\nAll checks passed! Garvis is ready to run.\n")
	}
	return nil
}

// checkTaskStore opens the store, which runs migrations, and reads from it.
func checkTaskStore(dsn string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := memory.NewSQLiteTaskStore(dsn, slog.New(slog.DiscardHandler))
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer store.Close()

	if _, err := store.List(ctx, "garvis-doctor"); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}
