package recon

import (
	"os"
	"path/filepath"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recon.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndPending(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordUnverified("run-1", "order_1", "pay_1", 25000); err != nil {
		t.Fatalf("RecordUnverified failed: %v", err)
	}
	if err := j.RecordUnverified("run-1", "order_2", "pay_2", 12500); err != nil {
		t.Fatalf("RecordUnverified failed: %v", err)
	}

	entries, err := j.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(entries))
	}

	byPayment := make(map[string]Entry)
	for _, e := range entries {
		byPayment[e.PaymentID] = e
	}
	e, ok := byPayment["pay_1"]
	if !ok {
		t.Fatal("pay_1 missing from journal")
	}
	if e.OrderID != "order_1" || e.Amount != 25000 || e.RunID != "run-1" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestResolve(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordUnverified("run-1", "order_1", "pay_1", 25000); err != nil {
		t.Fatal(err)
	}
	if err := j.Resolve("pay_1"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	entries, err := j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty journal after resolve, got %d entries", len(entries))
	}

	if err := j.Resolve("pay_1"); err == nil {
		t.Error("resolving an absent payment must fail")
	}
}

func TestRecordOverwritesSamePayment(t *testing.T) {
	j := openTestJournal(t)

	if err := j.RecordUnverified("run-1", "order_1", "pay_1", 25000); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordUnverified("run-2", "order_9", "pay_1", 12500); err != nil {
		t.Fatal(err)
	}

	entries, err := j.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry keyed by payment id, got %d", len(entries))
	}
	if entries[0].Amount != 12500 {
		t.Errorf("expected latest write to win, got amount %d", entries[0].Amount)
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recon.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordUnverified("run-1", "order_1", "pay_1", 25000); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j2.Close()

	entries, err := j2.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("journal lost entries across reopen: got %d", len(entries))
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("journal file missing: %v", err)
	}
}
