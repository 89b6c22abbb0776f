package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/slipbook/slipbook/internal/jobs"
	"github.com/slipbook/slipbook/internal/shared"
)

// ProformaReconcilePayload scopes a reconciliation run. A zero ProformaID scans everything.
type ProformaReconcilePayload struct {
	ProformaID int64 `json:"proforma_id,omitempty"`
}

// ProformaReconciler is the proforma service surface the job needs.
type ProformaReconciler interface {
	Reconcile(ctx context.Context) ([]*shared.ConsistencyError, error)
	CheckProforma(ctx context.Context, proformaID int64) ([]*shared.ConsistencyError, error)
}

// ProformaReconcileJob reports validation records and sales invoices that disagree.
// Findings are logged and counted, never repaired.
type ProformaReconcileJob struct {
	Service ProformaReconciler
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewProformaReconcileJob constructs the job handler.
func NewProformaReconcileJob(service ProformaReconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProformaReconcileJob {
	return &ProformaReconcileJob{Service: service, Logger: logger, Metrics: metrics}
}

// NewProformaReconcileTask creates an Asynq task for reconciliation.
func NewProformaReconcileTask(proformaID int64) (*asynq.Task, error) {
	return newTask(TaskProformaReconcile, ProformaReconcilePayload{ProformaID: proformaID})
}

// Handle executes the reconciliation.
func (j *ProformaReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("proforma reconcile: dependencies not configured")
	}
	var payload ProformaReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.ProformaID < 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskProformaReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	var findings []*shared.ConsistencyError
	if payload.ProformaID > 0 {
		findings, resultErr = j.Service.CheckProforma(ctx, payload.ProformaID)
	} else {
		findings, resultErr = j.Service.Reconcile(ctx)
	}
	if resultErr != nil {
		j.log().Error("reconcile proformas", slog.Int64("proforma_id", payload.ProformaID), slog.Any("error", resultErr))
		return resultErr
	}
	for kind, n := range countKinds(findings) {
		j.metrics().AddFindings(TaskProformaReconcile, string(kind), n)
	}
	level := slog.LevelInfo
	if len(findings) > 0 {
		level = slog.LevelWarn
	}
	j.log().Log(ctx, level, "proforma reconciliation finished",
		slog.Int("findings", len(findings)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *ProformaReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ProformaReconcileJob) log() *slog.Logger {
	return jobLogger(j.Logger, TaskProformaReconcile)
}
