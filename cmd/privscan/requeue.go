package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nao1215/privscan/internal/queue"
)

// NewRequeueCmd creates the requeue command.
func NewRequeueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requeue [source] [dead] [limit]",
		Short: "Move dead-lettered scan jobs back onto the queue",
		Long: `Requeue moves up to limit jobs from the dead-letter queue back onto the
source queue, keeping their payload, attempts and backoff.

The broker address is read from PRIVSCAN_REDIS_URL (or REDIS_URL).

Examples:
  # Requeue up to 50 jobs from scan.dead onto scan.site
  privscan requeue

  # Requeue up to 10 jobs between custom queues
  privscan requeue scan.site scan.dead 10`,
		Args: cobra.MaximumNArgs(3),
		RunE: runRequeueCmd,
	}

	// Flags end at the first queue name so a negative limit reaches the
	// limit check instead of being parsed as a shorthand flag.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

func runRequeueCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Queue.RedisURL == "" {
		return errNoBroker
	}

	source, dead, limit := cfg.Queue.Name, cfg.Queue.DeadName, queue.DefaultRequeueLimit
	if len(args) > 0 {
		source = args[0]
	}
	if len(args) > 1 {
		dead = args[1]
	}
	if len(args) > 2 {
		limit, err = strconv.Atoi(args[2])
		if err != nil || limit < 1 {
			return fmt.Errorf("invalid limit %q: must be a positive integer", args[2])
		}
	}

	client, err := queue.NewRedisClient(cfg.Queue.RedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	broker := queue.NewRedisBroker(client, queue.WithKeyPrefix(cfg.Queue.KeyPrefix))
	result, err := queue.Requeue(cmd.Context(), broker, source, dead, limit)
	fmt.Fprintf(cmd.OutOrStdout(), "requeued %d job(s)\n", result.Requeued)
	if err != nil {
		return fmt.Errorf("requeue failed (%d of %d jobs): %w", result.Failed, result.Processed, err)
	}
	return nil
}
