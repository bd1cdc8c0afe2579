package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"nudgebot/internal/app"
	"nudgebot/internal/config"
	logx "nudgebot/pkg/logx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "nudgebot",
	Short:         "Notification delivery and engagement planning daemon",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		// systemd units pass the environment themselves
		if os.Getenv("INVOCATION_ID") == "" {
			_ = godotenv.Load()
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon until SIGINT/SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(config.NewConfigManager(cfgPath), app.Options{})
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the persisted engine and planner records as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		st, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		defer st.Close()

		records, err := app.Inspect(cmd.Context(), st)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	rootCmd.AddCommand(runCmd, inspectCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
