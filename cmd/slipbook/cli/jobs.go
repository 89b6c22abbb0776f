package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/slipbook/slipbook/internal/app"
	"github.com/slipbook/slipbook/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the configured Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name with its default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	switch name {
	case jobs.TaskProformaReconcile:
		return c.client.EnqueueReconcile(ctx, 0)
	case jobs.TaskVerifyTotals:
		return c.client.EnqueueVerifyTotals(ctx, "", 0)
	}
	return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

func newJobsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger background jobs and inspect the queue",
	}
	open := func() (*JobsCLI, error) {
		cfg, err := app.LoadConfig()
		if err != nil {
			return nil, err
		}
		return NewJobsCLI(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskProformaReconcile, jobs.TaskVerifyTotals},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, map[string]string{"id": info.ID, "type": info.Type, "queue": info.Queue}, func(w io.Writer) {
				row(w, info.Type, info.ID, info.Queue)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show the default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer c.Close()
			stats, err := c.InspectQueue()
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts.Format, stats, func(w io.Writer) {
				row(w, "QUEUE", "PENDING", "ACTIVE", "SCHEDULED", "RETRY")
				row(w, stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			})
		},
	})
	return cmd
}
