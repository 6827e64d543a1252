// Package orchestrator drives a payment request to settlement as a
// sequence of gateway transactions, shrinking chunks the gateway rejects
// for exceeding its undisclosed per-transaction limit.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chunkpay/internal/checkout"
	"chunkpay/internal/classify"
	"chunkpay/internal/gateway"
	"chunkpay/internal/model"
	"chunkpay/internal/queue"
)

// Recorder persists settled chunks for reporting. Failures to record are
// logged, never fatal: the charge already happened.
type Recorder interface {
	RecordSettled(ctx context.Context, runID string, res model.ChunkResult) error
}

// Journal durably notes payments the gateway charged but the backend could
// not verify, so a reconciliation job can pick them up.
type Journal interface {
	RecordUnverified(runID, orderID, paymentID string, amount int64) error
}

type Config struct {
	// ChunkLimit is the conservative per-transaction ceiling used for the
	// initial queue, chosen well below known gateway maxima.
	ChunkLimit int64
	// RetryFloor is the amount below which a limit rejection stops being
	// recoverable: the account's real limit is unusably low.
	RetryFloor int64
	// Pacing is the delay between gateway calls, so back-to-back chunks do
	// not look automated.
	Pacing time.Duration
}

type Orchestrator struct {
	gateway  gateway.Gateway
	checkout checkout.Opener
	recorder Recorder
	journal  Journal
	cfg      Config
}

func New(gw gateway.Gateway, opener checkout.Opener, recorder Recorder, journal Journal, cfg Config) *Orchestrator {
	return &Orchestrator{
		gateway:  gw,
		checkout: opener,
		recorder: recorder,
		journal:  journal,
		cfg:      cfg,
	}
}

// Validate applies the preconditions that must hold before any network
// call: a positive effective amount, and a partial amount within the due
// ceiling.
func Validate(req model.PaymentRequest) error {
	if req.CustomAmount < 0 {
		return model.NewSettlementError(model.ClassValidation, "partial amount must be positive", nil)
	}
	if req.CustomAmount > 0 && req.CustomAmount > req.TotalDue {
		return model.NewSettlementError(model.ClassValidation,
			fmt.Sprintf("partial amount %d exceeds outstanding due %d", req.CustomAmount, req.TotalDue), nil)
	}
	if req.EffectiveAmount() <= 0 {
		return model.NewSettlementError(model.ClassValidation, "payment amount must be positive", nil)
	}
	return nil
}

// Settle drives the request to a terminal outcome. The returned ledger is
// always meaningful: chunks settled before a failure are real,
// irreversible charges and stay in it. The error, when non-nil, carries
// the terminal class (user cancellation included, so callers can tell it
// apart from hard failures).
func (o *Orchestrator) Settle(ctx context.Context, runID string, req model.PaymentRequest, token string, rep *Reporter) (*model.SettlementLedger, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}

	amount := req.EffectiveAmount()
	q, err := queue.Build(amount, o.cfg.ChunkLimit)
	if err != nil {
		return nil, model.NewSettlementError(model.ClassValidation, "cannot build chunk queue", err)
	}

	ledger := &model.SettlementLedger{}
	slog.Info("settlement run starting",
		"runId", runID,
		"amount", amount,
		"chunks", q.Size(),
		"chunkLimit", o.cfg.ChunkLimit,
	)

	for i := 0; i < q.Size(); {
		chunk := q.At(i)
		rep.update(func(p *Progress) {
			p.Phase = PhaseCreatingOrder
			p.ChunkSequence = chunk.Sequence
			p.ChunkCount = q.Size()
			p.CurrentAmount = chunk.Amount
			p.CheckoutSessionID = ""
		})
		q.SetState(i, model.ChunkInFlight)

		order, err := o.gateway.CreateOrder(ctx, chunk.Amount, req.Description)
		if err != nil {
			if model.ClassOf(err) == model.ClassAmountLimit {
				if retryErr := o.shrinkChunk(ctx, q, i, rep); retryErr != nil {
					return o.fail(q, i, ledger, rep, retryErr)
				}
				continue
			}
			return o.fail(q, i, ledger, rep, err)
		}

		session := o.checkout.Open(order, req.Description)
		rep.update(func(p *Progress) {
			p.Phase = PhaseAwaitingCheckout
			p.CheckoutSessionID = session.ID
		})

		outcome, err := session.Await(ctx)
		if err != nil {
			o.abandon(session)
			return o.fail(q, i, ledger, rep,
				model.NewSettlementError(model.ClassTransport, "settlement run cancelled while checkout open", err))
		}

		switch outcome.Kind {
		case checkout.OutcomeCancelled:
			return o.fail(q, i, ledger, rep,
				model.NewSettlementError(model.ClassUserCancelled, "checkout dismissed by user", nil))

		case checkout.OutcomeFailed:
			if classify.IsAmountLimit(outcome.FailurePayload) {
				if retryErr := o.shrinkChunk(ctx, q, i, rep); retryErr != nil {
					return o.fail(q, i, ledger, rep, retryErr)
				}
				continue
			}
			return o.fail(q, i, ledger, rep,
				model.NewSettlementError(model.ClassTransport,
					"checkout failed: "+string(outcome.FailurePayload), nil))

		case checkout.OutcomeCompleted:
			rep.update(func(p *Progress) { p.Phase = PhaseVerifying })
			_, err := o.gateway.VerifyPayment(ctx, token, gateway.VerificationRequest{
				OrderID:     order.OrderID,
				PaymentID:   outcome.PaymentID,
				Signature:   outcome.Signature,
				Amount:      chunk.Amount,
				TotalDue:    req.TotalDue,
				Description: req.Description,
			})
			if err != nil {
				// The customer was charged; make sure reconciliation can
				// find this payment before the run dies.
				o.journalUnverified(runID, order.OrderID, outcome.PaymentID, chunk.Amount)
				return o.fail(q, i, ledger, rep, err)
			}

			res := model.ChunkResult{
				Sequence:  chunk.Sequence,
				Amount:    chunk.Amount,
				OrderID:   order.OrderID,
				PaymentID: outcome.PaymentID,
				Signature: outcome.Signature,
				SettledAt: time.Now().UTC(),
			}
			q.SetState(i, model.ChunkSettled)
			ledger.Record(res)
			o.recordSettled(ctx, runID, res)
			rep.update(func(p *Progress) {
				p.Phase = PhasePacing
				p.SettledTotal = ledger.TotalSettled
				p.CheckoutSessionID = ""
			})
			slog.Info("chunk settled",
				"runId", runID,
				"sequence", chunk.Sequence,
				"amount", chunk.Amount,
				"settledTotal", ledger.TotalSettled,
			)

			i++
			if i < q.Size() {
				if err := o.pace(ctx); err != nil {
					return o.fail(q, i, ledger, rep,
						model.NewSettlementError(model.ClassTransport, "settlement run cancelled", err))
				}
			}
		}
	}

	ledger.Outcome = model.OutcomeAllSettled
	rep.update(func(p *Progress) {
		p.Phase = PhaseDone
		p.Outcome = model.OutcomeAllSettled
		p.SettledTotal = ledger.TotalSettled
	})
	slog.Info("settlement run complete", "runId", runID, "settledTotal", ledger.TotalSettled)
	return ledger, nil
}

// shrinkChunk applies the adaptive-limit response: halve the chunk and
// push the remainder down the queue, unless the amount is already at the
// retry floor, in which case the rejection is unrecoverable.
func (o *Orchestrator) shrinkChunk(ctx context.Context, q *queue.Queue, i int, rep *Reporter) error {
	current := q.At(i).Amount
	if current <= o.cfg.RetryFloor {
		return model.NewSettlementError(model.ClassAmountLimit,
			fmt.Sprintf("gateway limit below retry floor: %d rejected with floor %d — account transaction limit is unusually low", current, o.cfg.RetryFloor), nil)
	}

	newAmount := q.SplitAt(i)
	q.SetState(i, model.ChunkPending)
	rep.update(func(p *Progress) {
		p.CurrentAmount = newAmount
		p.ChunkCount = q.Size()
	})
	slog.Warn("chunk rejected for amount limit, halving",
		"sequence", q.At(i).Sequence,
		"rejectedAmount", current,
		"retryAmount", newAmount,
	)
	return o.pace(ctx)
}

func (o *Orchestrator) fail(q *queue.Queue, i int, ledger *model.SettlementLedger, rep *Reporter, err error) (*model.SettlementLedger, error) {
	q.SetState(i, model.ChunkFailed)

	outcome := model.OutcomeHardFailure
	if model.ClassOf(err) == model.ClassUserCancelled {
		outcome = model.OutcomeUserCancelled
	}
	ledger.Outcome = outcome

	rep.update(func(p *Progress) {
		p.Phase = PhaseDone
		p.Outcome = outcome
		p.SettledTotal = ledger.TotalSettled
		p.CheckoutSessionID = ""
		p.Message = err.Error()
	})
	slog.Error("settlement run halted",
		"class", model.ClassOf(err).String(),
		"settledTotal", ledger.TotalSettled,
		"err", err,
	)
	return ledger, err
}

func (o *Orchestrator) pace(ctx context.Context) error {
	if o.cfg.Pacing <= 0 {
		return nil
	}
	t := time.NewTimer(o.cfg.Pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) abandon(s *checkout.Session) {
	if r, ok := o.checkout.(*checkout.Registry); ok {
		r.Abandon(s.ID)
	}
}

func (o *Orchestrator) recordSettled(ctx context.Context, runID string, res model.ChunkResult) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordSettled(ctx, runID, res); err != nil {
		slog.Error("failed to record settled chunk", "runId", runID, "paymentId", res.PaymentID, "err", err)
	}
}

func (o *Orchestrator) journalUnverified(runID, orderID, paymentID string, amount int64) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordUnverified(runID, orderID, paymentID, amount); err != nil {
		slog.Error("failed to journal unverified payment",
			"runId", runID, "paymentId", paymentID, "err", err)
	}
}
