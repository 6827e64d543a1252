// Package checkout models the external hosted checkout flow. The actual
// modal runs in the customer's browser, so on this side a chunk's checkout
// is a session: the orchestrator opens one and blocks on Await until an
// HTTP callback relays what the user did (completed, cancelled, or the
// provider raised an error).
package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chunkpay/internal/model"
)

type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeCancelled
	OutcomeFailed
)

type Outcome struct {
	Kind      OutcomeKind
	PaymentID string
	Signature string
	// FailurePayload is the raw provider error object for OutcomeFailed,
	// kept opaque until the classifier sees it.
	FailurePayload []byte
}

type Session struct {
	ID          string
	Order       model.OrderDetails
	Description string
	CreatedAt   time.Time

	done chan Outcome
}

// Await blocks until the session is resolved or the context is cancelled.
// The user may leave the modal open indefinitely: the only bound here is
// the run's context.
func (s *Session) Await(ctx context.Context) (Outcome, error) {
	select {
	case out := <-s.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Opener is the orchestrator's view of the checkout flow.
type Opener interface {
	Open(order model.OrderDetails, description string) *Session
}

// Registry tracks open checkout sessions by id. One registry exists per
// process, lazily handed to every run, mirroring the one checkout SDK
// handle a page session holds.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Open(order model.OrderDetails, description string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Order:       order,
		Description: description,
		CreatedAt:   time.Now().UTC(),
		done:        make(chan Outcome, 1),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Resolve delivers the user's outcome to whoever is awaiting the session
// and removes it. A second resolution of the same session is rejected.
func (r *Registry) Resolve(id string, out Outcome) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return model.ErrSessionNotFound
	}
	s.done <- out
	return nil
}

// Abandon drops a session nobody will resolve, e.g. when a run's context
// was cancelled while its checkout was open.
func (r *Registry) Abandon(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
