package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"garvis/internal/channel"
	"garvis/internal/domain"
	"garvis/internal/logger"

	"github.com/spf13/cobra"
)

func chatCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with Garvis in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !verbose && cfg.App.LogFile == "" {
				// Log lines would interleave with the REPL.
				cfg.App.LogLevel = "error"
			}
			log, closeLog, err := logger.New(cfg.App)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a := newApp(cfg, log)
			if err := a.bot.Start(ctx); err != nil {
				return err
			}
			defer a.bot.Stop(context.Background())

			runCtx, cancel := context.WithCancel(ctx)
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				a.bot.Run(runCtx)
			}()

			cli := channel.NewCLI(channel.CLIConfig{
				Logger:  log,
				In:      cmd.InOrStdin(),
				Out:     cmd.OutOrStdout(),
				Spinner: true,
			})
			err = cli.Start(ctx, a.messages)
			cancel()
			wg.Wait()
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show log output in the terminal")
	return cmd
}

func askCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message and print the reply",
		Example: `  garvis ask "add task: review the release notes"
  garvis ask what time is it`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := newApp(cfg, slog.New(slog.DiscardHandler))
			reply, err := a.ask(cmd.Context(), user, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli-user", "user ID the request is made as")
	return cmd
}

// ask runs a single message through a started bot and stops it again.
func (a *app) ask(ctx context.Context, user, text string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.bot.Start(ctx); err != nil {
		return "", err
	}
	defer a.bot.Stop(ctx)
	return a.bot.HandleMessage(ctx, domain.InboundMessage{
		Channel:  "cli",
		ChatID:   "direct",
		SenderID: user,
		Content:  text,
	}), nil
}
