package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// Service owns payment records: order creation against a gateway and the
// webhook confirmation that credits the buyer's wallet. All balance changes
// are delegated to the wallet store.
type Service struct {
	db        *sql.DB
	wallets   *wallet.Store
	publisher *events.Publisher
	gateways  map[string]Gateway
	packages  []models.CreditPackage
	logger    logging.Logger
}

// NewService creates the payments service
func NewService(db *sql.DB, wallets *wallet.Store, publisher *events.Publisher, gateways []Gateway, packages []models.CreditPackage, logger logging.Logger) *Service {
	byName := make(map[string]Gateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &Service{
		db:        db,
		wallets:   wallets,
		publisher: publisher,
		gateways:  byName,
		packages:  packages,
		logger:    logger,
	}
}

// DefaultPackages returns the platform's standard credit bundles
func DefaultPackages() []models.CreditPackage {
	return []models.CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 100, Price: decimal.NewFromInt(199), Currency: "INR"},
		{ID: "regular", Name: "Regular", Credits: 550, Price: decimal.NewFromInt(899), Currency: "INR"},
		{ID: "pro", Name: "Pro", Credits: 1200, Price: decimal.NewFromInt(1699), Currency: "INR"},
	}
}

// Packages lists the purchasable credit bundles
func (s *Service) Packages() []models.CreditPackage {
	return s.packages
}

// OrderResult pairs the local payment record with the gateway order the
// client needs to complete checkout.
type OrderResult struct {
	Payment *models.PaymentRecord `json:"payment"`
	Order   *Order                `json:"order"`
}

// CreateOrder creates a gateway order for a credit package and records it
// as a pending payment.
func (s *Service) CreateOrder(ctx context.Context, userID, packageID, gatewayName string) (*OrderResult, error) {
	var pkg *models.CreditPackage
	for i := range s.packages {
		if s.packages[i].ID == packageID {
			pkg = &s.packages[i]
			break
		}
	}
	if pkg == nil {
		return nil, ErrPackageNotFound
	}

	gw, ok := s.gateways[gatewayName]
	if !ok {
		return nil, ErrUnknownGateway
	}

	order, err := gw.CreateOrder(ctx, OrderRequest{
		Amount:   pkg.Price,
		Currency: pkg.Currency,
		Receipt:  fmt.Sprintf("credits-%s-%d", userID, time.Now().Unix()),
		Notes: map[string]string{
			"user_id":    userID,
			"package_id": pkg.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	record := models.PaymentRecord{
		UserID:         userID,
		PackageID:      pkg.ID,
		Amount:         pkg.Price,
		Currency:       pkg.Currency,
		Credits:        pkg.Credits,
		Gateway:        gatewayName,
		GatewayOrderID: order.ID,
		Status:         models.PaymentPending,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO payment_records (
			user_id, package_id, amount, currency, credits,
			gateway, gateway_order_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING id, created_at, updated_at
	`, record.UserID, record.PackageID, record.Amount, record.Currency, record.Credits,
		record.Gateway, record.GatewayOrderID,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert payment record: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"payment_id": record.ID,
		"user_id":    userID,
		"package_id": pkg.ID,
		"gateway":    gatewayName,
	}).Info("Created payment order")

	return &OrderResult{Payment: &record, Order: order}, nil
}

// ConfirmationResult reports the outcome of a payment confirmation.
// AlreadyProcessed distinguishes duplicate webhook deliveries, which are
// no-ops rather than errors.
type ConfirmationResult struct {
	Payment          *models.PaymentRecord     `json:"payment"`
	Wallet           *models.Wallet            `json:"wallet,omitempty"`
	Transaction      *models.CreditTransaction `json:"transaction,omitempty"`
	AlreadyProcessed bool                      `json:"already_processed"`
}

// Confirm reconciles a gateway confirmation with its payment record and
// credits the wallet. The status-guarded update and the ledger credit share
// one database transaction, so a redelivered confirmation can never credit
// twice.
func (s *Service) Confirm(ctx context.Context, paymentID, gatewayPaymentID, signature string) (*ConfirmationResult, error) {
	record, err := s.Record(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if record.Status == models.PaymentCompleted {
		s.logger.WithField("payment_id", paymentID).Info("Payment already confirmed, skipping")
		return &ConfirmationResult{Payment: record, AlreadyProcessed: true}, nil
	}
	if record.Status == models.PaymentFailed {
		return nil, ErrVerificationFailed
	}

	gw, ok := s.gateways[record.Gateway]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGateway, record.Gateway)
	}

	if !gw.VerifySignature(record.GatewayOrderID, gatewayPaymentID, signature) {
		// Guarded so a racing valid confirmation is not clobbered
		if _, err := s.db.ExecContext(ctx, `
			UPDATE payment_records
			SET status = 'failed', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`, paymentID); err != nil {
			s.logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to mark payment failed")
		}
		s.logger.WithFields(logging.Fields{
			"payment_id": paymentID,
			"gateway":    record.Gateway,
		}).Warn("Payment signature verification failed")
		return nil, ErrVerificationFailed
	}

	w, err := s.wallets.GetOrCreate(ctx, record.UserID, models.OwnerUser)
	if err != nil {
		return nil, err
	}

	var result *ConfirmationResult
	for attempt := 0; attempt < 3; attempt++ {
		result, err = s.confirmOnce(ctx, record, w.ID, gatewayPaymentID)
		if err == nil {
			break
		}
		if !wallet.IsSerializationError(err) {
			return nil, err
		}
		s.logger.WithField("payment_id", paymentID).Warn("Retrying payment confirmation after serialization conflict")
	}
	if err != nil {
		return nil, fmt.Errorf("payment confirmation failed after retries: %w", err)
	}

	if !result.AlreadyProcessed {
		s.publisher.Publish(events.RoutingKeyCredit, events.EventCreditsPurchased, events.CreditEvent{
			EventType:   events.EventCreditsPurchased,
			UserID:      record.UserID,
			WalletID:    result.Wallet.ID,
			Amount:      record.Credits,
			Balance:     result.Wallet.Balance,
			Description: "Credit purchase " + record.PackageID,
			Timestamp:   time.Now(),
		})
	}

	return result, nil
}

func (s *Service) confirmOnce(ctx context.Context, record *models.PaymentRecord, walletID, gatewayPaymentID string) (*ConfirmationResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	res, err := tx.ExecContext(ctx, `
		UPDATE payment_records
		SET status = 'completed', gateway_payment_id = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, gatewayPaymentID, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to complete payment record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read completion result: %w", err)
	}
	if affected == 0 {
		// A concurrent delivery won the race; its credit stands. The record
		// is no longer pending, so report the settled status.
		record.Status = models.PaymentCompleted
		return &ConfirmationResult{Payment: record, AlreadyProcessed: true}, nil
	}

	w, txn, err := s.wallets.ApplyTx(ctx, tx, wallet.TransactionRequest{
		WalletID:    walletID,
		Type:        models.TxPurchase,
		Amount:      record.Credits,
		RelatedID:   record.ID,
		RelatedType: "payment",
		Description: fmt.Sprintf("Purchased %d credits (%s)", record.Credits, record.PackageID),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment confirmation: %w", err)
	}

	record.Status = models.PaymentCompleted
	record.GatewayPaymentID = gatewayPaymentID

	s.logger.WithFields(logging.Fields{
		"payment_id": record.ID,
		"user_id":    record.UserID,
		"credits":    record.Credits,
		"balance":    w.Balance,
	}).Info("Payment confirmed and wallet credited")

	return &ConfirmationResult{Payment: record, Wallet: w, Transaction: txn}, nil
}

// Record loads a payment record by ID
func (s *Service) Record(ctx context.Context, paymentID string) (*models.PaymentRecord, error) {
	var record models.PaymentRecord
	var gatewayPaymentID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, package_id, amount, currency, credits,
		       gateway, gateway_order_id, gateway_payment_id, status, created_at, updated_at
		FROM payment_records
		WHERE id = $1
	`, paymentID).Scan(&record.ID, &record.UserID, &record.PackageID, &record.Amount, &record.Currency,
		&record.Credits, &record.Gateway, &record.GatewayOrderID, &gatewayPaymentID,
		&record.Status, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment record: %w", err)
	}
	record.GatewayPaymentID = gatewayPaymentID.String
	return &record, nil
}

// Award credits a wallet outside the purchase flow: admin grants, gig
// completion rewards, referral bonuses.
func (s *Service) Award(ctx context.Context, userID string, amount int64, txType models.TransactionType, description string) (*models.Wallet, *models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAward
	}
	switch txType {
	case models.TxAdminAward, models.TxGigCompletion, models.TxReferralReward:
	default:
		return nil, nil, ErrInvalidAward
	}

	w, err := s.wallets.GetOrCreate(ctx, userID, models.OwnerUser)
	if err != nil {
		return nil, nil, err
	}

	updated, txn, err := s.wallets.Apply(ctx, wallet.TransactionRequest{
		WalletID:    w.ID,
		Type:        txType,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return nil, nil, err
	}

	s.publisher.Publish(events.RoutingKeyCredit, events.EventCreditsAwarded, events.CreditEvent{
		EventType:   events.EventCreditsAwarded,
		UserID:      userID,
		WalletID:    updated.ID,
		Amount:      amount,
		Balance:     updated.Balance,
		Description: description,
		Timestamp:   time.Now(),
	})

	return updated, txn, nil
}
