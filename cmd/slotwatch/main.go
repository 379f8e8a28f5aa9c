package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"slotwatch/internal/app"
)

var (
	cfgPath     string
	stopTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "slotwatch",
	Short:         "Watch an appointment site for free slots and push them to Telegram",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runBot,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch available slots once and print them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return app.RunCheck(ctx, cfgPath, nil, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	rootCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 90*time.Second, "upper bound for graceful shutdown")
	rootCmd.AddCommand(checkCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(cmd.Context()); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var reason app.StopReason
	select {
	case s := <-sigs:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	return errors.Join(a.Err(), stopErr)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
