package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"chunkpay/internal/model"
)

// Deduper claims a correlation id so a double-submitted payment form
// starts one run, not two.
type Deduper interface {
	Claim(ctx context.Context, correlationID string) (bool, error)
}

type Run struct {
	ID       string
	Reporter *Reporter

	mu     sync.Mutex
	ledger *model.SettlementLedger
	err    error
	done   bool
}

func (r *Run) result() (*model.SettlementLedger, error, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger, r.err, r.done
}

// Manager owns the live settlement runs. Runs outlive the HTTP request
// that started them (the user still has checkouts to click through), so
// they execute on the manager's base context, not the request's.
type Manager struct {
	orch    *Orchestrator
	dedup   Deduper
	baseCtx context.Context

	mu   sync.RWMutex
	runs map[string]*Run
}

func NewManager(baseCtx context.Context, orch *Orchestrator, dedup Deduper) *Manager {
	return &Manager{
		orch:    orch,
		dedup:   dedup,
		baseCtx: baseCtx,
		runs:    make(map[string]*Run),
	}
}

// Start validates the request synchronously — a malformed request must be
// rejected before any network call — then launches the run.
func (m *Manager) Start(ctx context.Context, req model.PaymentRequest, token string) (string, error) {
	if err := Validate(req); err != nil {
		return "", err
	}

	if m.dedup != nil && req.CorrelationID != "" {
		claimed, err := m.dedup.Claim(ctx, req.CorrelationID)
		if err != nil {
			slog.Warn("dedup check failed, accepting request", "correlationId", req.CorrelationID, "err", err)
		} else if !claimed {
			slog.Debug("duplicate correlation id, dropping", "correlationId", req.CorrelationID)
			return "", model.ErrDuplicateRequest
		}
	}

	runID := uuid.NewString()
	run := &Run{
		ID:       runID,
		Reporter: NewReporter(runID, req.EffectiveAmount()),
	}
	m.mu.Lock()
	m.runs[runID] = run
	m.mu.Unlock()

	go func() {
		ledger, err := m.orch.Settle(m.baseCtx, runID, req, token, run.Reporter)
		run.mu.Lock()
		run.ledger = ledger
		run.err = err
		run.done = true
		run.mu.Unlock()
	}()

	return runID, nil
}

func (m *Manager) Progress(runID string) (Progress, error) {
	m.mu.RLock()
	run, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return Progress{}, model.ErrRunNotFound
	}
	return run.Reporter.Snapshot(), nil
}

// Result returns the terminal ledger of a run, or done=false while it is
// still in flight.
func (m *Manager) Result(runID string) (ledger *model.SettlementLedger, err error, done bool) {
	m.mu.RLock()
	run, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, model.ErrRunNotFound, true
	}
	return run.result()
}
