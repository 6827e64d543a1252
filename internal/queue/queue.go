// Package queue holds the transaction chunk queue a settlement run works
// through. A queue is fully materialized from the requested amount before
// any network call, and only ever mutated by the run driving it, so no
// locking lives here.
package queue

import (
	"fmt"

	"chunkpay/internal/model"
)

type Queue struct {
	chunks []model.TransactionChunk
}

// Build constructs the initial queue for a total amount under a
// per-transaction ceiling: ceil(total/limit) chunks, each min(remaining,
// limit). Pure with respect to its inputs — identical inputs always yield
// identical queues.
func Build(total, limit int64) (*Queue, error) {
	if total <= 0 {
		return nil, fmt.Errorf("total must be positive, got %d", total)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	q := &Queue{}
	remaining := total
	for seq := 1; remaining > 0; seq++ {
		amount := remaining
		if amount > limit {
			amount = limit
		}
		q.chunks = append(q.chunks, model.TransactionChunk{
			Sequence: seq,
			Amount:   amount,
			State:    model.ChunkPending,
		})
		remaining -= amount
	}
	return q, nil
}

func (q *Queue) Size() int { return len(q.chunks) }

func (q *Queue) At(i int) model.TransactionChunk { return q.chunks[i] }

// Chunks returns a copy of the queue for inspection.
func (q *Queue) Chunks() []model.TransactionChunk {
	out := make([]model.TransactionChunk, len(q.chunks))
	copy(out, q.chunks)
	return out
}

func (q *Queue) SetState(i int, state model.ChunkState) {
	q.chunks[i].State = state
}

// SplitAt halves chunk i and redistributes the freed remainder: onto the
// next queued chunk if one exists, otherwise as a brand-new chunk appended
// at the end. The chunk keeps its sequence number for labeling. Returns
// the chunk's new amount.
//
// Conservation holds across the split: Total() is unchanged.
func (q *Queue) SplitAt(i int) int64 {
	half := q.chunks[i].Amount / 2
	remainder := q.chunks[i].Amount - half
	q.chunks[i].Amount = half

	if i+1 < len(q.chunks) {
		q.chunks[i+1].Amount += remainder
	} else {
		q.chunks = append(q.chunks, model.TransactionChunk{
			Sequence: q.chunks[i].Sequence + 1,
			Amount:   remainder,
			State:    model.ChunkPending,
		})
	}
	return half
}

// Total sums every chunk regardless of state. Against the settled total it
// verifies that splitting redistributes money without creating or
// destroying any.
func (q *Queue) Total() int64 {
	var sum int64
	for _, c := range q.chunks {
		sum += c.Amount
	}
	return sum
}

// Outstanding sums the chunks that have not settled yet.
func (q *Queue) Outstanding() int64 {
	var sum int64
	for _, c := range q.chunks {
		if c.State != model.ChunkSettled {
			sum += c.Amount
		}
	}
	return sum
}
