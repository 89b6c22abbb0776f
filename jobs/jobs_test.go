package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/slipbook/slipbook/internal/invoice"
	jobmetrics "github.com/slipbook/slipbook/internal/jobs"
	"github.com/slipbook/slipbook/internal/shared"
)

type fakeReconciler struct {
	all     []*shared.ConsistencyError
	checked []int64
	scanned int
	err     error
}

func (f *fakeReconciler) Reconcile(context.Context) ([]*shared.ConsistencyError, error) {
	f.scanned++
	return f.all, f.err
}

func (f *fakeReconciler) CheckProforma(_ context.Context, id int64) ([]*shared.ConsistencyError, error) {
	f.checked = append(f.checked, id)
	return nil, f.err
}

type fakeVerifier struct {
	filters  []invoice.ListFilter
	findings []*shared.ConsistencyError
}

func (f *fakeVerifier) VerifyAll(_ context.Context, filter invoice.ListFilter) ([]*shared.ConsistencyError, error) {
	f.filters = append(f.filters, filter)
	return f.findings, nil
}

func TestReconcileJobScansAllOrOne(t *testing.T) {
	svc := &fakeReconciler{all: []*shared.ConsistencyError{
		{Kind: shared.OrphanSalesInvoice, ProformaID: 4, SalesInvoiceID: 9},
	}}
	job := NewProformaReconcileJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewProformaReconcileTask(0)
	require.NoError(t, err)
	require.Equal(t, TaskProformaReconcile, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, svc.scanned)

	task, err = NewProformaReconcileTask(12)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{12}, svc.checked)
}

func TestReconcileJobSkipsBadPayloadAndReturnsStoreErrors(t *testing.T) {
	svc := &fakeReconciler{}
	job := NewProformaReconcileJob(svc, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskProformaReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, svc.scanned)

	svc.err = errors.New("pg down")
	err = job.Handle(context.Background(), asynq.NewTask(TaskProformaReconcile, nil))
	require.EqualError(t, err, "pg down")

	var unconfigured *ProformaReconcileJob
	require.Error(t, unconfigured.Handle(context.Background(), asynq.NewTask(TaskProformaReconcile, nil)))
}

func TestVerifyTotalsJobBuildsFilter(t *testing.T) {
	svc := &fakeVerifier{findings: []*shared.ConsistencyError{{Kind: shared.TotalsDrift}}}
	job := NewVerifyTotalsJob(svc, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	now := time.Date(2024, 7, 1, 3, 0, 0, 0, time.UTC)
	job.WithClock(func() time.Time { return now })

	task, err := NewVerifyTotalsTask(string(invoice.SalesInvoice), 7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, svc.filters, 1)
	require.Equal(t, invoice.SalesInvoice, svc.filters[0].Kind)
	require.Equal(t, now.AddDate(0, 0, -7), svc.filters[0].From)

	task, err = NewVerifyTotalsTask("Receipt", 0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
	require.Len(t, svc.filters, 1)
}

func TestEngineCronAndHandlers(t *testing.T) {
	cron, err := EngineCron("0 2 * * *")
	require.NoError(t, err)
	require.Len(t, cron, 2)
	require.Equal(t, TaskProformaReconcile, cron[0].Task.Type())
	require.Equal(t, TaskVerifyTotals, cron[1].Task.Type())

	none, err := EngineCron("")
	require.NoError(t, err)
	require.Empty(t, none)

	handlers := EngineHandlers(NewProformaReconcileJob(&fakeReconciler{}, nil, nil), NewVerifyTotalsJob(&fakeVerifier{}, nil, nil))
	require.Len(t, handlers, 2)
	for _, h := range handlers {
		require.NotNil(t, h.Handler)
	}
}
