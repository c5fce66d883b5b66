package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// fakeGateway stands in for the payment provider
type fakeGateway struct {
	name     string
	order    *Order
	orderErr error
	valid    bool
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	return f.order, f.orderErr
}

func (f *fakeGateway) VerifySignature(orderID, paymentID, signature string) bool {
	return f.valid
}

func newTestService(t *testing.T, gw Gateway) (*Service, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	logger := logging.NewLogger()
	var gateways []Gateway
	if gw != nil {
		gateways = append(gateways, gw)
	}
	svc := NewService(mockDB, wallet.NewStore(mockDB, logger), events.NewPublisher(nil, logger),
		gateways, DefaultPackages(), logger)
	return svc, mock, func() { mockDB.Close() }
}

func paymentRecordRows(id, userID, status string, credits int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "package_id", "amount", "currency", "credits",
		"gateway", "gateway_order_id", "gateway_payment_id", "status", "created_at", "updated_at"}).
		AddRow(id, userID, "regular", "899", "INR", credits, "checkout", "order_abc", nil, status, now, now)
}

func expectGetOrCreateWallet(mock sqlmock.Sqlmock, ownerID, walletID string, balance, earned, spent int64) {
	mock.ExpectExec("INSERT INTO wallets").
		WithArgs(ownerID, "user").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, owner_id, owner_type, balance").
		WithArgs(ownerID, "user").
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "balance", "total_earned", "total_spent", "created_at", "updated_at"}).
			AddRow(walletID, ownerID, "user", balance, earned, spent, time.Now(), time.Now()))
}

func TestConfirmCreditsWalletExactlyOnce(t *testing.T) {
	svc, mock, done := newTestService(t, &fakeGateway{name: "checkout", valid: true})
	defer done()

	paymentID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectQuery("SELECT id, user_id, package_id, amount").
		WithArgs(paymentID).
		WillReturnRows(paymentRecordRows(paymentID, "user-1", "pending", 550))

	expectGetOrCreateWallet(mock, "user-1", walletID, 0, 0, 0)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_records").
		WithArgs("pay_xyz", paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id, owner_id, owner_type, balance.*FOR UPDATE`).
		WithArgs(walletID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "balance", "total_earned", "total_spent", "created_at", "updated_at"}).
			AddRow(walletID, "user-1", "user", int64(0), int64(0), int64(0), time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WithArgs(walletID, string(models.TxPurchase), int64(550), int64(0), int64(550),
			paymentID, "payment", "Purchased 550 credits (regular)", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New().String(), time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(550), int64(550), int64(0), walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Confirm(context.Background(), paymentID, "pay_xyz", "sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.AlreadyProcessed {
		t.Fatal("expected a fresh confirmation")
	}
	if result.Wallet.Balance != 550 {
		t.Fatalf("expected balance 550, got %d", result.Wallet.Balance)
	}
	if result.Payment.Status != models.PaymentCompleted {
		t.Fatalf("expected completed status, got %s", result.Payment.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmDuplicateDeliveryIsNoOp(t *testing.T) {
	svc, mock, done := newTestService(t, &fakeGateway{name: "checkout", valid: true})
	defer done()

	paymentID := uuid.New().String()

	mock.ExpectQuery("SELECT id, user_id, package_id, amount").
		WithArgs(paymentID).
		WillReturnRows(paymentRecordRows(paymentID, "user-1", "completed", 550))

	result, err := svc.Confirm(context.Background(), paymentID, "pay_xyz", "sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatal("expected duplicate delivery to be a no-op")
	}
	if result.Wallet != nil || result.Transaction != nil {
		t.Fatal("no ledger activity expected for a duplicate")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmLosingRaceIsNoOp(t *testing.T) {
	svc, mock, done := newTestService(t, &fakeGateway{name: "checkout", valid: true})
	defer done()

	paymentID := uuid.New().String()
	walletID := uuid.New().String()

	mock.ExpectQuery("SELECT id, user_id, package_id, amount").
		WithArgs(paymentID).
		WillReturnRows(paymentRecordRows(paymentID, "user-1", "pending", 550))

	expectGetOrCreateWallet(mock, "user-1", walletID, 0, 0, 0)

	// A concurrent delivery completed the record between the read and the
	// guarded update: zero rows, no credit.
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE payment_records").
		WithArgs("pay_xyz", paymentID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	result, err := svc.Confirm(context.Background(), paymentID, "pay_xyz", "sig")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.AlreadyProcessed {
		t.Fatal("expected losing delivery to be a no-op")
	}
	if result.Payment.Status != models.PaymentCompleted {
		t.Fatalf("expected settled status %s, got %s", models.PaymentCompleted, result.Payment.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmBadSignatureMarksFailedAndCreditsNothing(t *testing.T) {
	svc, mock, done := newTestService(t, &fakeGateway{name: "checkout", valid: false})
	defer done()

	paymentID := uuid.New().String()

	mock.ExpectQuery("SELECT id, user_id, package_id, amount").
		WithArgs(paymentID).
		WillReturnRows(paymentRecordRows(paymentID, "user-1", "pending", 550))
	mock.ExpectExec("UPDATE payment_records").
		WithArgs(paymentID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.Confirm(context.Background(), paymentID, "pay_xyz", "tampered")
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConfirmUnknownPayment(t *testing.T) {
	svc, mock, done := newTestService(t, &fakeGateway{name: "checkout", valid: true})
	defer done()

	paymentID := uuid.New().String()

	mock.ExpectQuery("SELECT id, user_id, package_id, amount").
		WithArgs(paymentID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "package_id", "amount", "currency", "credits",
			"gateway", "gateway_order_id", "gateway_payment_id", "status", "created_at", "updated_at"}))

	_, err := svc.Confirm(context.Background(), paymentID, "pay_xyz", "sig")
	if !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrderRecordsPendingPayment(t *testing.T) {
	gw := &fakeGateway{name: "checkout", order: &Order{ID: "order_abc", Currency: "INR"}}
	svc, mock, done := newTestService(t, gw)
	defer done()

	paymentID := uuid.New().String()

	mock.ExpectQuery("INSERT INTO payment_records").
		WithArgs("user-1", "regular", sqlmock.AnyArg(), "INR", int64(550), "checkout", "order_abc").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(paymentID, time.Now(), time.Now()))

	result, err := svc.CreateOrder(context.Background(), "user-1", "regular", "checkout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Payment.ID != paymentID || result.Payment.Status != models.PaymentPending {
		t.Fatalf("unexpected payment record: %+v", result.Payment)
	}
	if result.Order.ID != "order_abc" {
		t.Fatalf("unexpected order: %+v", result.Order)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateOrderUnknownPackage(t *testing.T) {
	svc, _, done := newTestService(t, &fakeGateway{name: "checkout"})
	defer done()

	_, err := svc.CreateOrder(context.Background(), "user-1", "mega", "checkout")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Fatalf("expected ErrPackageNotFound, got %v", err)
	}
}

func TestCreateOrderUnknownGateway(t *testing.T) {
	svc, _, done := newTestService(t, &fakeGateway{name: "checkout"})
	defer done()

	_, err := svc.CreateOrder(context.Background(), "user-1", "regular", "bogus")
	if !errors.Is(err, ErrUnknownGateway) {
		t.Fatalf("expected ErrUnknownGateway, got %v", err)
	}
}

func TestAwardRejectsInvalidInput(t *testing.T) {
	svc, _, done := newTestService(t, nil)
	defer done()

	if _, _, err := svc.Award(context.Background(), "user-1", 0, models.TxAdminAward, ""); !errors.Is(err, ErrInvalidAward) {
		t.Fatalf("expected ErrInvalidAward for zero amount, got %v", err)
	}
	if _, _, err := svc.Award(context.Background(), "user-1", 100, models.TxPurchase, ""); !errors.Is(err, ErrInvalidAward) {
		t.Fatalf("expected ErrInvalidAward for non-award type, got %v", err)
	}
}

func TestAwardCreditsWallet(t *testing.T) {
	svc, mock, done := newTestService(t, nil)
	defer done()

	walletID := uuid.New().String()

	expectGetOrCreateWallet(mock, "user-1", walletID, 100, 100, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, owner_id, owner_type, balance.*FOR UPDATE`).
		WithArgs(walletID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "owner_type", "balance", "total_earned", "total_spent", "created_at", "updated_at"}).
			AddRow(walletID, "user-1", "user", int64(100), int64(100), int64(0), time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO credit_transactions").
		WithArgs(walletID, string(models.TxGigCompletion), int64(75), int64(100), int64(175),
			nil, nil, "Gig completed", []byte(`{}`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New().String(), time.Now()))
	mock.ExpectExec("UPDATE wallets").
		WithArgs(int64(175), int64(175), int64(0), walletID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w, txn, err := svc.Award(context.Background(), "user-1", 75, models.TxGigCompletion, "Gig completed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Balance != 175 {
		t.Fatalf("expected balance 175, got %d", w.Balance)
	}
	if txn.Amount != 75 {
		t.Fatalf("expected amount 75, got %d", txn.Amount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
