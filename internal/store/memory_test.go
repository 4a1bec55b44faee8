package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agrihook/agri-engine/internal/model"
)

const testPool = "AGRI-COFFEE-USDC-1b2e8d04"

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func fund(t *testing.T, s *MemoryStore, amount float64) {
	t.Helper()
	err := s.InsertTreasuryEntry(context.Background(), &model.TreasuryEntry{
		ID:        "funding",
		PoolID:    testPool,
		Reason:    model.TreasuryFunding,
		Amount:    d(amount),
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func debit(id string, amount float64) *model.TreasuryEntry {
	return &model.TreasuryEntry{
		ID:        id,
		PoolID:    testPool,
		Reason:    model.TreasuryPayout,
		Amount:    d(amount).Neg(),
		Timestamp: time.Now().UTC(),
	}
}

func TestDebitTreasury_GuardsBalance(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	fund(t, s, 300)

	if err := s.DebitTreasury(ctx, debit("d1", 250)); err != nil {
		t.Fatalf("first debit within balance: %v", err)
	}
	if err := s.DebitTreasury(ctx, debit("d2", 250)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	bal, err := s.TreasuryBalance(ctx, testPool)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.Equal(d(50)) {
		t.Errorf("expected balance 50, got %s", bal)
	}

	// The failed debit must not leave a ledger entry behind.
	entries, err := s.ListTreasuryEntries(ctx, testPool)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 entries (funding + one debit), got %d", len(entries))
	}
}

func TestDebitTreasury_RejectsNonNegativeAmount(t *testing.T) {
	s := NewMemoryStore()
	fund(t, s, 300)

	entry := debit("d1", 100)
	entry.Amount = d(100)
	if err := s.DebitTreasury(context.Background(), entry); err == nil {
		t.Error("expected error for positive debit amount")
	}
}

func TestDebitTreasury_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	fund(t, s, 300)

	// Eight racing 250 debits against a balance of 300: exactly one
	// can pass the guard.
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := s.DebitTreasury(ctx, debit(fmt.Sprintf("d%d", id), 250)); err == nil {
				succeeded.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if succeeded.Load() != 1 {
		t.Errorf("expected exactly one debit to succeed, got %d", succeeded.Load())
	}
	bal, err := s.TreasuryBalance(ctx, testPool)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.IsNegative() {
		t.Errorf("balance must never go negative, got %s", bal)
	}
	if !bal.Equal(d(50)) {
		t.Errorf("expected balance 50, got %s", bal)
	}
}
