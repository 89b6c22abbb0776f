package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/slipbook/slipbook/internal/invoice"
	jobmetrics "github.com/slipbook/slipbook/internal/jobs"
	"github.com/slipbook/slipbook/internal/shared"
)

// VerifyTotalsPayload narrows the documents to check.
type VerifyTotalsPayload struct {
	Kind string `json:"kind,omitempty"`
	// Days limits the scan to documents billed in the trailing window. Zero scans all.
	Days int `json:"days,omitempty"`
}

// TotalsVerifier recomputes stored totals.
type TotalsVerifier interface {
	VerifyAll(ctx context.Context, filter invoice.ListFilter) ([]*shared.ConsistencyError, error)
}

// VerifyTotalsJob reports invoices whose cached total drifted from their lines.
type VerifyTotalsJob struct {
	Service TotalsVerifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewVerifyTotalsJob constructs the job handler.
func NewVerifyTotalsJob(service TotalsVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *VerifyTotalsJob {
	return &VerifyTotalsJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewVerifyTotalsTask creates an Asynq task for totals verification.
func NewVerifyTotalsTask(kind string, days int) (*asynq.Task, error) {
	return newTask(TaskVerifyTotals, VerifyTotalsPayload{Kind: kind, Days: days})
}

// Handle executes the verification.
func (j *VerifyTotalsJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("verify totals: dependencies not configured")
	}
	var payload VerifyTotalsPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	filter := invoice.ListFilter{Kind: invoice.DocumentKind(payload.Kind)}
	if payload.Kind != "" && !filter.Kind.Valid() {
		j.log().Warn("unknown document kind", slog.String("kind", payload.Kind))
		return asynq.SkipRetry
	}
	if payload.Days > 0 {
		filter.From = j.now().AddDate(0, 0, -payload.Days)
	}

	tracker := j.metrics().Track(TaskVerifyTotals)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	findings, err := j.Service.VerifyAll(ctx, filter)
	if err != nil {
		resultErr = err
		j.log().Error("verify totals", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddFindings(TaskVerifyTotals, string(shared.TotalsDrift), len(findings))
	j.log().Info("totals verified", slog.String("kind", payload.Kind), slog.Int("drift", len(findings)))
	return resultErr
}

func (j *VerifyTotalsJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *VerifyTotalsJob) log() *slog.Logger {
	return jobLogger(j.Logger, TaskVerifyTotals)
}

func (j *VerifyTotalsJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *VerifyTotalsJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
