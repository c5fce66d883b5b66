package boost

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/clients"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// applyTimeout bounds the best-effort side-effect call to the owning service
const applyTimeout = 30 * time.Second

// Manager owns the boost state machine (ACTIVE -> EXPIRED) and the
// contribution flow. All balance changes go through the wallet store; calls
// to sibling services and the event bus happen strictly after the ledger
// commit and never undo it.
type Manager struct {
	db        *sql.DB
	wallets   *wallet.Store
	adapter   Adapter
	publisher *events.Publisher
	cfg       Config
	logger    logging.Logger
}

// NewManager creates a boost lifecycle manager
func NewManager(db *sql.DB, wallets *wallet.Store, adapter Adapter, publisher *events.Publisher, cfg Config, logger logging.Logger) *Manager {
	return &Manager{
		db:        db,
		wallets:   wallets,
		adapter:   adapter,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// PurchaseResult reports the outcome of a boost purchase. The side effect
// on the owning service is best-effort: ExternalServiceApplied is false
// when it failed, but the debit and the boost stand regardless.
type PurchaseResult struct {
	Boost                  *models.Boost             `json:"boost"`
	Wallet                 *models.Wallet            `json:"wallet"`
	Transaction            *models.CreditTransaction `json:"transaction"`
	ExternalServiceApplied bool                      `json:"external_service_applied"`
}

// ContributionResult reports both ledger legs of a clan contribution
type ContributionResult struct {
	DonorTransaction *models.CreditTransaction `json:"donor_transaction"`
	ClanTransaction  *models.CreditTransaction `json:"clan_transaction"`
	DonorWallet      *models.Wallet            `json:"donor_wallet"`
	ClanWallet       *models.Wallet            `json:"clan_wallet"`
}

// Purchase buys a boost for a target. The debit and the boost row commit as
// one database transaction; the partial unique index on active boosts makes
// concurrent purchases for the same target race down to one winner.
func (m *Manager) Purchase(ctx context.Context, userID string, boostType models.BoostType, target Target, durationHours int) (*PurchaseResult, error) {
	pricing, ok := m.cfg.Pricing[boostType]
	if !ok {
		return nil, ErrUnknownBoostType
	}
	if durationHours == 0 {
		durationHours = pricing.DefaultDurationHours
	}
	if durationHours < 1 || durationHours > pricing.MaxDurationHours {
		return nil, ErrInvalidDuration
	}

	// Cheap pre-check; the unique index is the real guard.
	active, err := m.ActiveFor(ctx, target.ID, target.Type, boostType)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrAlreadyBoosted
	}

	if _, err := m.adapter.GetDetails(ctx, target.Type, target.ID); err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrExternalServiceUnavailable, err)
	}

	w, err := m.wallets.GetOrCreate(ctx, userID, models.OwnerUser)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.Wallet
		txn     *models.CreditTransaction
		b       models.Boost
	)

	err = m.withRetry(ctx, func() error {
		tx, err := m.wallets.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // rollback is best-effort

		updated, txn, err = m.wallets.ApplyTx(ctx, tx, wallet.TransactionRequest{
			WalletID:    w.ID,
			Type:        debitType(boostType),
			Amount:      -pricing.CreditsCost,
			RelatedID:   target.ID,
			RelatedType: target.Type,
			Description: fmt.Sprintf("%s boost for %dh", boostType, durationHours),
		})
		if err != nil {
			return err
		}

		now := time.Now()
		b = models.Boost{
			WalletID:      w.ID,
			BoostType:     boostType,
			TargetID:      target.ID,
			TargetType:    target.Type,
			CreditsCost:   pricing.CreditsCost,
			DurationHours: durationHours,
			StartTime:     now,
			EndTime:       now.Add(time.Duration(durationHours) * time.Hour),
			IsActive:      true,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO boosts (
				wallet_id, boost_type, target_id, target_type,
				credits_cost, duration_hours, start_time, end_time, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
			RETURNING id, created_at
		`, b.WalletID, b.BoostType, b.TargetID, b.TargetType,
			b.CreditsCost, b.DurationHours, b.StartTime, b.EndTime,
		).Scan(&b.ID, &b.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyBoosted
			}
			return fmt.Errorf("failed to insert boost: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit boost purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Credits are spent once the commit above lands. Everything below is
	// best-effort and must not fail the purchase.
	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()
	applied := m.adapter.Apply(applyCtx, boostType, target, durationHours)
	if !applied.Success {
		m.logger.WithFields(logging.Fields{
			"boost_id":   b.ID,
			"boost_type": boostType,
			"target_id":  target.ID,
			"error":      applied.Error,
		}).Warn("Boost debited but owning service did not apply it")
	}

	m.publisher.Publish(events.RoutingKeyBoost, events.EventBoostApplied, events.BoostEvent{
		EventType:    events.EventBoostApplied,
		BoostType:    string(boostType),
		TargetID:     target.ID,
		TargetType:   target.Type,
		CreditsSpent: pricing.CreditsCost,
		UserID:       userID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		Timestamp:    time.Now(),
	})

	return &PurchaseResult{
		Boost:                  &b,
		Wallet:                 updated,
		Transaction:            txn,
		ExternalServiceApplied: applied.Success,
	}, nil
}

// Contribute transfers credits from a user wallet to a clan wallet. Both
// ledger legs run inside one database transaction: either both commit or
// neither is observable.
func (m *Manager) Contribute(ctx context.Context, fromUserID, clanID string, amount int64) (*ContributionResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := m.adapter.GetDetails(ctx, "clan", clanID); err != nil {
		if errors.Is(err, clients.ErrNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrExternalServiceUnavailable, err)
	}

	donor, err := m.wallets.GetOrCreate(ctx, fromUserID, models.OwnerUser)
	if err != nil {
		return nil, err
	}
	clan, err := m.wallets.GetOrCreate(ctx, clanID, models.OwnerClan)
	if err != nil {
		return nil, err
	}

	var result ContributionResult
	err = m.withRetry(ctx, func() error {
		tx, err := m.wallets.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback() //nolint:errcheck // rollback is best-effort

		donorWallet, donorTxn, err := m.wallets.ApplyTx(ctx, tx, wallet.TransactionRequest{
			WalletID:    donor.ID,
			Type:        models.TxContribution,
			Amount:      -amount,
			RelatedID:   clanID,
			RelatedType: "clan",
			Description: "Contribution to clan",
		})
		if err != nil {
			return err
		}

		clanWallet, clanTxn, err := m.wallets.ApplyTx(ctx, tx, wallet.TransactionRequest{
			WalletID:    clan.ID,
			Type:        models.TxContribution,
			Amount:      amount,
			RelatedID:   fromUserID,
			RelatedType: "user",
			Description: "Contribution from member",
		})
		if err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit contribution: %w", err)
		}

		result = ContributionResult{
			DonorTransaction: donorTxn,
			ClanTransaction:  clanTxn,
			DonorWallet:      donorWallet,
			ClanWallet:       clanWallet,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.publisher.Publish(events.RoutingKeyCredit, events.EventCreditsContributed, events.CreditEvent{
		EventType:   events.EventCreditsContributed,
		UserID:      fromUserID,
		WalletID:    result.ClanWallet.ID,
		Amount:      amount,
		Balance:     result.ClanWallet.Balance,
		Description: "Contribution to clan " + clanID,
		Timestamp:   time.Now(),
	})

	return &result, nil
}

// ActiveFor returns the active boost for a target, or nil when none exists
func (m *Manager) ActiveFor(ctx context.Context, targetID, targetType string, boostType models.BoostType) (*models.Boost, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, wallet_id, boost_type, target_id, target_type,
		       credits_cost, duration_hours, start_time, end_time, is_active, created_at
		FROM boosts
		WHERE target_id = $1 AND target_type = $2 AND boost_type = $3 AND is_active = true
	`, targetID, targetType, boostType)

	var b models.Boost
	err := row.Scan(&b.ID, &b.WalletID, &b.BoostType, &b.TargetID, &b.TargetType,
		&b.CreditsCost, &b.DurationHours, &b.StartTime, &b.EndTime, &b.IsActive, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active boost: %w", err)
	}
	return &b, nil
}

// ListByWallet returns all boosts bought from a wallet, newest first
func (m *Manager) ListByWallet(ctx context.Context, walletID string) ([]models.Boost, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, wallet_id, boost_type, target_id, target_type,
		       credits_cost, duration_hours, start_time, end_time, is_active, created_at
		FROM boosts
		WHERE wallet_id = $1
		ORDER BY created_at DESC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boosts: %w", err)
	}
	defer rows.Close()

	var boosts []models.Boost
	for rows.Next() {
		var b models.Boost
		if err := rows.Scan(&b.ID, &b.WalletID, &b.BoostType, &b.TargetID, &b.TargetType,
			&b.CreditsCost, &b.DurationHours, &b.StartTime, &b.EndTime, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan boost: %w", err)
		}
		boosts = append(boosts, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate boosts: %w", err)
	}

	return boosts, nil
}

// Config returns the manager's pricing configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// withRetry re-runs a transactional closure on serialization failures.
// Cross-wallet transfers can deadlock under contention; Postgres aborts one
// side and that side is safe to replay whole.
func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !wallet.IsSerializationError(err) {
			return err
		}
		lastErr = err
		m.logger.WithField("attempt", attempt+1).Warn("Retrying credit transaction after serialization conflict")
	}
	return fmt.Errorf("credit transaction failed after retries: %w", lastErr)
}

func debitType(boostType models.BoostType) models.TransactionType {
	switch boostType {
	case models.BoostProfile:
		return models.TxBoostProfile
	case models.BoostGig:
		return models.TxBoostGig
	default:
		return models.TxBoostClan
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
