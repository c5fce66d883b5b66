//go:build integration

package wallet

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// Run with: go test -tags integration ./internal/wallet -run Concurrent
// DATABASE_URL must point at a scratch Postgres database.

func openIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			owner_id TEXT NOT NULL,
			owner_type TEXT NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0,
			total_earned BIGINT NOT NULL DEFAULT 0,
			total_spent BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (owner_id, owner_type)
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			wallet_id UUID NOT NULL REFERENCES wallets(id),
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			related_id TEXT,
			related_type TEXT,
			description TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to provision schema: %v", err)
		}
	}
	return db
}

// Fifty concurrent 1-credit debits against a balance of 10 must leave
// exactly ten winners, a zero balance, and an unbroken ledger chain.
func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := openIntegrationDB(t)
	store := NewStore(db, logging.NewLogger())
	ctx := context.Background()

	ownerID := uuid.New().String()
	w, err := store.GetOrCreate(ctx, ownerID, models.OwnerUser)
	if err != nil {
		t.Fatalf("failed to create wallet: %v", err)
	}
	if _, _, err := store.Apply(ctx, TransactionRequest{
		WalletID:    w.ID,
		Type:        models.TxAdminAward,
		Amount:      10,
		Description: "seed balance",
	}); err != nil {
		t.Fatalf("failed to seed balance: %v", err)
	}

	const attempts = 50
	var succeeded, rejected atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Apply(ctx, TransactionRequest{
				WalletID:    w.ID,
				Type:        models.TxBoostGig,
				Amount:      -1,
				Description: "concurrent debit",
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientBalance):
				rejected.Add(1)
			default:
				t.Errorf("unexpected debit error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 10 || rejected.Load() != attempts-10 {
		t.Fatalf("expected 10 winners and %d rejections, got %d and %d",
			attempts-10, succeeded.Load(), rejected.Load())
	}

	final, err := store.ByID(ctx, w.ID)
	if err != nil {
		t.Fatalf("failed to reload wallet: %v", err)
	}
	if final.Balance != 0 {
		t.Fatalf("expected zero balance, got %d", final.Balance)
	}

	// The chain must be gapless: each balance_before equals the previous
	// entry's balance_after.
	txns, total, err := store.Transactions(ctx, w.ID, 1, 100, "")
	if err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	if total != 11 {
		t.Fatalf("expected 11 ledger entries, got %d", total)
	}
	for i := 0; i < len(txns)-1; i++ {
		// Newest first: entry i follows entry i+1
		if txns[i].BalanceBefore != txns[i+1].BalanceAfter {
			t.Fatalf("broken balance chain: %d does not follow %d",
				txns[i].BalanceBefore, txns[i+1].BalanceAfter)
		}
	}
}
