// Package recon durably journals payments the gateway charged but the
// backend never confirmed. The original flow simply lost these: the
// customer paid and nothing recorded it. Every verification failure lands
// here first, keyed by the gateway payment id, for a reconciliation job to
// drain.
package recon

import (
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/bytedance/sonic"
)

var bucketUnreconciled = []byte("UnreconciledPayments")

type Entry struct {
	RunID      string    `json:"runId"`
	OrderID    string    `json:"orderId"`
	PaymentID  string    `json:"paymentId"`
	Amount     int64     `json:"amount"`
	RecordedAt time.Time `json:"recordedAt"`
}

type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open reconciliation journal %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUnreconciled)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// RecordUnverified journals a charged-but-unverified payment. The write
// must land before the settlement run is failed upstream.
func (j *Journal) RecordUnverified(runID, orderID, paymentID string, amount int64) error {
	entry := Entry{
		RunID:      runID,
		OrderID:    orderID,
		PaymentID:  paymentID,
		Amount:     amount,
		RecordedAt: time.Now().UTC(),
	}
	raw, err := sonic.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnreconciled).Put([]byte(paymentID), raw)
	})
}

// Pending lists every payment still awaiting reconciliation.
func (j *Journal) Pending() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUnreconciled).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := sonic.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("decode journal entry %s: %w", k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

// Resolve removes a payment once the backend ledger has been squared with
// the gateway charge.
func (j *Journal) Resolve(paymentID string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUnreconciled)
		if b.Get([]byte(paymentID)) == nil {
			return fmt.Errorf("payment %s not in journal", paymentID)
		}
		return b.Delete([]byte(paymentID))
	})
}
