package model

import (
	"errors"
	"fmt"
	"time"
)

// Amounts are whole currency units. The gateway's true per-transaction
// ceiling is account-specific and undocumented, so chunk amounts are
// mutable: they shrink when the gateway rejects them.

type PaymentRequest struct {
	Amount        int64  `json:"amount"`
	CustomAmount  int64  `json:"customAmount,omitempty"`
	TotalDue      int64  `json:"totalDue"`
	Description   string `json:"description"`
	CorrelationID string `json:"correlationId"`
}

// EffectiveAmount is the amount the settlement run will actually drive:
// the explicit partial amount when one was supplied, the full amount
// otherwise.
func (p PaymentRequest) EffectiveAmount() int64 {
	if p.CustomAmount > 0 {
		return p.CustomAmount
	}
	return p.Amount
}

type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkInFlight
	ChunkSettled
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "pending"
	case ChunkInFlight:
		return "in_flight"
	case ChunkSettled:
		return "settled"
	case ChunkFailed:
		return "failed"
	}
	return "unknown"
}

type TransactionChunk struct {
	Sequence int        `json:"sequence"`
	Amount   int64      `json:"amount"`
	State    ChunkState `json:"state"`
}

// ChunkResult is one settled gateway transaction.
type ChunkResult struct {
	Sequence  int       `json:"sequence"`
	Amount    int64     `json:"amount"`
	OrderID   string    `json:"orderId"`
	PaymentID string    `json:"paymentId"`
	Signature string    `json:"signature"`
	SettledAt time.Time `json:"settledAt"`
}

type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeAllSettled
	OutcomeUserCancelled
	OutcomeHardFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRunning:
		return "running"
	case OutcomeAllSettled:
		return "all_settled"
	case OutcomeUserCancelled:
		return "user_cancelled"
	case OutcomeHardFailure:
		return "hard_failure"
	}
	return "unknown"
}

// SettlementLedger holds the results of one run. Settled chunks are real,
// irreversible gateway charges: the ledger never forgets them, whatever
// the terminal outcome.
type SettlementLedger struct {
	Results      []ChunkResult `json:"results"`
	TotalSettled int64         `json:"totalSettled"`
	Outcome      Outcome       `json:"outcome"`
}

func (l *SettlementLedger) Record(res ChunkResult) {
	l.Results = append(l.Results, res)
	l.TotalSettled += res.Amount
}

// OrderDetails is the gateway's answer to order creation.
type OrderDetails struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"keyId"`
}

// ErrorClass is the tagged union every raw gateway, backend or transport
// failure is reduced to at the boundary. Orchestration logic never looks
// at raw payloads again.
type ErrorClass int

const (
	ClassValidation ErrorClass = iota
	ClassAmountLimit
	ClassUserCancelled
	ClassVerificationFailed
	ClassTransport
)

func (c ErrorClass) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassAmountLimit:
		return "amount_limit"
	case ClassUserCancelled:
		return "user_cancelled"
	case ClassVerificationFailed:
		return "verification_failed"
	case ClassTransport:
		return "transport"
	}
	return "unknown"
}

type SettlementError struct {
	Class   ErrorClass
	Message string
	Cause   error
}

func (e *SettlementError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *SettlementError) Unwrap() error { return e.Cause }

func NewSettlementError(class ErrorClass, message string, cause error) *SettlementError {
	return &SettlementError{Class: class, Message: message, Cause: cause}
}

// ClassOf extracts the error class, defaulting to transport for anything
// that was never classified.
func ClassOf(err error) ErrorClass {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Class
	}
	return ClassTransport
}

var (
	ErrDuplicateRequest = errors.New("duplicate correlation id")
	ErrRunNotFound      = errors.New("settlement run not found")
	ErrSessionNotFound  = errors.New("checkout session not found")
)
