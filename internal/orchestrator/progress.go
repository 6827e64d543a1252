package orchestrator

import (
	"sync"

	"chunkpay/internal/model"
)

// Progress is the read-only view of a settlement run the UI polls while
// the customer works through checkouts. It is a value snapshot: callers
// can hold one across further state transitions.
type Progress struct {
	RunID             string        `json:"runId"`
	Phase             string        `json:"phase"`
	ChunkSequence     int           `json:"chunkSequence"`
	ChunkCount        int           `json:"chunkCount"`
	CurrentAmount     int64         `json:"currentAmount"`
	SettledTotal      int64         `json:"settledTotal"`
	RequestedAmount   int64         `json:"requestedAmount"`
	Outcome           model.Outcome `json:"-"`
	OutcomeLabel      string        `json:"outcome"`
	CheckoutSessionID string        `json:"checkoutSessionId,omitempty"`
	Message           string        `json:"message,omitempty"`
}

const (
	PhaseValidating       = "validating"
	PhaseCreatingOrder    = "creating_order"
	PhaseAwaitingCheckout = "awaiting_checkout"
	PhaseVerifying        = "verifying"
	PhasePacing           = "pacing"
	PhaseDone             = "done"
)

// Reporter serializes snapshot updates from the run goroutine against
// reads from API handlers. Safe to poll at any frequency.
type Reporter struct {
	mu sync.RWMutex
	p  Progress
}

func NewReporter(runID string, requested int64) *Reporter {
	return &Reporter{p: Progress{
		RunID:           runID,
		Phase:           PhaseValidating,
		RequestedAmount: requested,
		OutcomeLabel:    model.OutcomeRunning.String(),
	}}
}

func (r *Reporter) Snapshot() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.p
}

func (r *Reporter) update(fn func(*Progress)) {
	r.mu.Lock()
	fn(&r.p)
	r.p.OutcomeLabel = r.p.Outcome.String()
	r.mu.Unlock()
}
