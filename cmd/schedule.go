package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/spirits-cli/internal/queue"
)

var workerQueue string

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the scheduler beat or a queue worker",
}

var scheduleBeatCmd = &cobra.Command{
	Use:   "beat",
	Short: "Dispatch due schedules and run periodic enrichment sweeps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.scheduler.RunBeat(ctx); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var scheduleWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume and execute queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.scheduler.RunWorker(ctx, workerQueue); err != nil && !eris.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <schedule-slug>",
	Short: "Dispatch a schedule outside its normal cadence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("schedule"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.scheduler.TriggerManual(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "trigger %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	scheduleWorkerCmd.Flags().StringVar(&workerQueue, "queue", queue.QueueDiscovery, "queue to consume")
	scheduleCmd.AddCommand(scheduleBeatCmd)
	scheduleCmd.AddCommand(scheduleWorkerCmd)
	scheduleCmd.AddCommand(scheduleTriggerCmd)
	rootCmd.AddCommand(scheduleCmd)
}
