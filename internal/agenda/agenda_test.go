package agenda

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydra_bot/internal/models"
	"hydra_bot/internal/repo"
	"hydra_bot/pkg/db"
	"hydra_bot/pkg/logger"
)

type stubEvaluator struct {
	ran chan *models.Automation
}

func (s *stubEvaluator) EvalDecision(_ context.Context, _ string, auto *models.Automation) []models.Result {
	s.ran <- auto
	return nil
}

// stubTxManager records every statement executed through it.
type stubTxManager struct {
	execs []string
}

func (s *stubTxManager) RunMaster(ctx context.Context, fn func(context.Context, db.Transaction) error) error {
	return fn(ctx, &stubTxn{mgr: s})
}

func (s *stubTxManager) Conn() db.Transaction { return &stubTxn{mgr: s} }

type stubTxn struct{ mgr *stubTxManager }

func (s *stubTxn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.mgr.execs = append(s.mgr.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (s *stubTxn) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (s *stubTxn) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return nil
}

func TestAddRejectsBadCronSpec(t *testing.T) {
	logger.Init()
	stub := &stubEvaluator{ran: make(chan *models.Automation, 1)}
	a := New(nil, nil, func(int64) Evaluator { return stub })

	err := a.Add(&models.Automation{ID: 1, IsActive: true, Schedule: "not a spec"})
	assert.Error(t, err)
	assert.Empty(t, a.List())
}

func TestAddIgnoresInactiveAndUnscheduled(t *testing.T) {
	logger.Init()
	stub := &stubEvaluator{ran: make(chan *models.Automation, 1)}
	a := New(nil, nil, func(int64) Evaluator { return stub })

	require.NoError(t, a.Add(&models.Automation{ID: 1, IsActive: true}))
	require.NoError(t, a.Add(&models.Automation{ID: 2, IsActive: false, Schedule: "* * * * * *"}))
	assert.Empty(t, a.List())
}

func TestCronScheduleRuns(t *testing.T) {
	logger.Init()
	stub := &stubEvaluator{ran: make(chan *models.Automation, 4)}
	a := New(nil, nil, func(int64) Evaluator { return stub })
	a.Start()
	defer a.Stop()

	auto := &models.Automation{ID: 3, UserID: 1, Name: "hourly", IsActive: true, Schedule: "* * * * * *"}
	require.NoError(t, a.Add(auto))

	select {
	case got := <-stub.ran:
		assert.Equal(t, auto.ID, got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled automation never ran")
	}

	next, ok := a.List()[auto.ID]
	require.True(t, ok)
	assert.False(t, next.IsZero())

	a.Cancel(auto.ID)
	assert.Empty(t, a.List())
}

func TestPastDateScheduleDeactivates(t *testing.T) {
	logger.Init()
	stub := &stubEvaluator{ran: make(chan *models.Automation, 1)}
	tx := &stubTxManager{}
	a := New(tx, repo.NewAutomations(), func(int64) Evaluator { return stub })

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	require.NoError(t, a.Add(&models.Automation{ID: 4, IsActive: true, Schedule: past}))
	assert.Empty(t, a.List())
	assert.Empty(t, stub.ran, "an expired one-shot must not run")
	require.Len(t, tx.execs, 1)
	assert.Contains(t, tx.execs[0], "UPDATE automations SET is_active")
}
