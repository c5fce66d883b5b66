package boost

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/clients"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

func dueBoostRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "wallet_id", "boost_type", "target_id", "target_type",
		"credits_cost", "start_time", "end_time", "owner_id"})
}

func expectDueBoostScan(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT b.id, b.wallet_id, b.boost_type, b.target_id, b.target_type, b.credits_cost, b.start_time, b.end_time, w.owner_id`).
		WillReturnRows(rows)
}

func TestSweepExpiresDueBoostWithAuditEntry(t *testing.T) {
	adapter := &fakeAdapter{removeResult: clients.Ok(nil)}
	m, mock, done := newTestManager(t, adapter)
	defer done()

	boostID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(sweepLockKey)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	started := time.Now().Add(-24 * time.Hour)
	ended := time.Now().Add(-time.Minute)
	expectDueBoostScan(mock, dueBoostRows().
		AddRow(boostID, walletID, string(models.BoostGig), "gig-1", "gig", int64(30), started, ended, "user-1"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE boosts").
		WithArgs(boostID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, owner_id, owner_type, balance.*FOR UPDATE`).
		WithArgs(walletID).
		WillReturnRows(walletRows(walletID, 170, 200, 30))
	// Zero-amount audit entry
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WithArgs(walletID, string(models.TxBoostExpired), int64(0), int64(170), int64(170),
			boostID, "boost", "GIG boost expired", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New().String(), time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(170), int64(200), int64(30), walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(int64(sweepLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sweeper := NewSweeper(m)
	expired, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired boost, got %d", expired)
	}
	if adapter.removeCalls != 1 {
		t.Fatalf("expected one remove call, got %d", adapter.removeCalls)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// busRecorder records messages handed to the event publisher
type busRecorder struct {
	messages chan []byte
}

func (r *busRecorder) ProduceMessage(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	r.messages <- value
	return nil
}

func TestSweepExpiryEventNamesWalletOwner(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	recorder := &busRecorder{messages: make(chan []byte, 1)}
	logger := logging.NewLogger()
	adapter := &fakeAdapter{removeResult: clients.Ok(nil)}
	m := NewManager(mockDB, wallet.NewStore(mockDB, logger), adapter,
		events.NewPublisher(recorder, logger), testConfig(), logger)

	boostID := uuid.New().String()
	walletID := uuid.New().String()
	started := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	ended := started.Add(24 * time.Hour)

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(sweepLockKey)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	expectDueBoostScan(mock, dueBoostRows().
		AddRow(boostID, walletID, string(models.BoostProfile), "user-7", "user", int64(50), started, ended, "user-7"))

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE boosts").
		WithArgs(boostID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, owner_id, owner_type, balance.*FOR UPDATE`).
		WithArgs(walletID).
		WillReturnRows(walletRows(walletID, 150, 200, 50))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WithArgs(walletID, string(models.TxBoostExpired), int64(0), int64(150), int64(150),
			boostID, "boost", "PROFILE boost expired", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New().String(), time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(150), int64(200), int64(50), walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(int64(sweepLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sweeper := NewSweeper(m)
	if _, err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var payload []byte
	select {
	case payload = <-recorder.messages:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry event was not published")
	}

	var event events.BoostEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if event.EventType != events.EventBoostExpired {
		t.Fatalf("expected event type %s, got %s", events.EventBoostExpired, event.EventType)
	}
	if event.UserID != "user-7" {
		t.Fatalf("expected the wallet owner in the event, got %q", event.UserID)
	}
	if !event.StartTime.Equal(started) || !event.EndTime.Equal(ended) {
		t.Fatalf("expected boost window %s..%s, got %s..%s", started, ended, event.StartTime, event.EndTime)
	}
	if event.CreditsSpent != 50 {
		t.Fatalf("expected 50 credits spent, got %d", event.CreditsSpent)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSweepSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	m, mock, done := newTestManager(t, &fakeAdapter{})
	defer done()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(sweepLockKey)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	sweeper := NewSweeper(m)
	expired, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expirations, got %d", expired)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSweepAlreadyExpiredBoostIsNoOp(t *testing.T) {
	adapter := &fakeAdapter{removeResult: clients.Ok(nil)}
	m, mock, done := newTestManager(t, adapter)
	defer done()

	boostID := uuid.New().String()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(sweepLockKey)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	expectDueBoostScan(mock, dueBoostRows().
		AddRow(boostID, uuid.New().String(), string(models.BoostProfile), "user-1", "user",
			int64(50), time.Now().Add(-48*time.Hour), time.Now().Add(-time.Hour), "user-1"))

	// A concurrent pass already flipped the flag: zero rows, no ledger write
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE boosts").
		WithArgs(boostID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(int64(sweepLockKey)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sweeper := NewSweeper(m)
	expired, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected no expirations, got %d", expired)
	}
	if adapter.removeCalls != 0 {
		t.Fatal("no side effect expected for an already-expired boost")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
