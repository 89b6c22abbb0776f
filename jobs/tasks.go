package jobs

import (
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/slipbook/slipbook/internal/jobs"
	"github.com/slipbook/slipbook/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProformaReconcile scans validation records against sales invoices.
	TaskProformaReconcile = "proforma:reconcile"
	// TaskVerifyTotals recomputes stored invoice totals from their lines.
	TaskVerifyTotals = "invoice:verify_totals"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// countKinds tallies findings per kind for metrics.
func countKinds(findings []*shared.ConsistencyError) map[shared.ConsistencyKind]int {
	out := make(map[shared.ConsistencyKind]int)
	for _, f := range findings {
		out[f.Kind]++
	}
	return out
}

func jobLogger(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}

// EngineHandlers maps the engine task types to their handlers.
func EngineHandlers(reconcile *ProformaReconcileJob, verify *VerifyTotalsJob) []TaskHandler {
	return []TaskHandler{
		{Type: TaskProformaReconcile, Handler: reconcile.Handle},
		{Type: TaskVerifyTotals, Handler: verify.Handle},
	}
}

// EngineCron schedules a full reconciliation and a totals check of the last
// week on spec. An empty spec schedules nothing.
func EngineCron(spec string) ([]CronRegistration, error) {
	if spec == "" {
		return nil, nil
	}
	reconcile, err := NewProformaReconcileTask(0)
	if err != nil {
		return nil, err
	}
	verify, err := NewVerifyTotalsTask("", 7)
	if err != nil {
		return nil, err
	}
	return []CronRegistration{
		{Spec: spec, Task: reconcile, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: spec, Task: verify, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}, nil
}
