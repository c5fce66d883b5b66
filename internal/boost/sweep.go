package boost

import (
	"context"
	"fmt"
	"time"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/internal/wallet"
	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// sweepLockKey is the advisory lock key for the expiry sweep. One key per
// concern keeps replicas from sweeping concurrently.
const sweepLockKey = 7041_2209

// dueBoost is a boost row joined with its wallet owner, so the expiry
// event can name the user the boost belonged to.
type dueBoost struct {
	models.Boost
	OwnerID string
}

// Sweeper expires boosts whose end time has passed. It runs on a fixed
// interval independent of any request, holds a Postgres advisory lock as a
// single-sweeper lease across replicas, and is idempotent: the one-way
// is_active flag means a boost processed once is never matched again.
type Sweeper struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewSweeper creates the expiry sweeper for a manager
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{
		manager: manager,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *Sweeper) Start(ctx context.Context) {
	interval := s.manager.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}

	s.manager.logger.WithField("interval", interval).Info("Starting boost expiry sweep")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if expired, err := s.RunOnce(ctx); err != nil {
					s.manager.logger.WithError(err).Error("Boost expiry sweep failed")
				} else if expired > 0 {
					s.manager.logger.WithField("expired", expired).Info("Boost expiry sweep completed")
				}
			}
		}
	}()
}

// Stop stops the periodic sweep
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

// RunOnce performs a single sweep pass and returns how many boosts it
// expired. When another replica holds the lease the pass is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	m := s.manager

	// Advisory locks are session-scoped, so lock and unlock must happen on
	// the same pooled connection.
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire sweep connection: %w", err)
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, sweepLockKey).Scan(&acquired); err != nil {
		return 0, fmt.Errorf("failed to acquire sweep lease: %w", err)
	}
	if !acquired {
		m.logger.Debug("Sweep lease held elsewhere, skipping pass")
		return 0, nil
	}
	defer func() {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, sweepLockKey); err != nil {
			m.logger.WithError(err).Warn("Failed to release sweep lease")
		}
	}()

	rows, err := conn.QueryContext(ctx, `
		SELECT b.id, b.wallet_id, b.boost_type, b.target_id, b.target_type, b.credits_cost, b.start_time, b.end_time, w.owner_id
		FROM boosts b
		JOIN wallets w ON w.id = b.wallet_id
		WHERE b.is_active = true AND b.end_time <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to query due boosts: %w", err)
	}

	var due []dueBoost
	for rows.Next() {
		var b dueBoost
		if err := rows.Scan(&b.ID, &b.WalletID, &b.BoostType, &b.TargetID, &b.TargetType, &b.CreditsCost, &b.StartTime, &b.EndTime, &b.OwnerID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan due boost: %w", err)
		}
		due = append(due, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate due boosts: %w", err)
	}

	expired := 0
	for _, b := range due {
		ok, err := s.expireOne(ctx, b)
		if err != nil {
			m.logger.WithError(err).WithField("boost_id", b.ID).Error("Failed to expire boost")
			continue
		}
		if ok {
			expired++
		}
	}

	return expired, nil
}

// expireOne flips a single boost to expired and appends the zero-amount
// audit ledger entry in one transaction. The status-guarded UPDATE makes a
// concurrent or repeated pass a no-op rather than a double process.
func (s *Sweeper) expireOne(ctx context.Context, b dueBoost) (bool, error) {
	m := s.manager

	tx, err := m.wallets.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	res, err := tx.ExecContext(ctx, `
		UPDATE boosts
		SET is_active = false
		WHERE id = $1 AND is_active = true
	`, b.ID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate boost: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read deactivation result: %w", err)
	}
	if affected == 0 {
		// Already expired by an earlier or concurrent pass
		return false, nil
	}

	// Zero-amount entry keeps the causal history complete without moving
	// credits; it still takes the wallet row lock so it lands in order.
	_, _, err = m.wallets.ApplyTx(ctx, tx, wallet.TransactionRequest{
		WalletID:    b.WalletID,
		Type:        models.TxBoostExpired,
		Amount:      0,
		RelatedID:   b.ID,
		RelatedType: "boost",
		Description: fmt.Sprintf("%s boost expired", b.BoostType),
	})
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit boost expiry: %w", err)
	}

	target := Target{ID: b.TargetID, Type: b.TargetType}

	removeCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()
	if removed := m.adapter.Remove(removeCtx, b.BoostType, target); !removed.Success {
		m.logger.WithFields(logging.Fields{
			"boost_id":  b.ID,
			"target_id": b.TargetID,
			"error":     removed.Error,
		}).Warn("Boost expired but owning service did not remove it")
	}

	m.publisher.Publish(events.RoutingKeyBoost, events.EventBoostExpired, events.BoostEvent{
		EventType:    events.EventBoostExpired,
		BoostType:    string(b.BoostType),
		TargetID:     b.TargetID,
		TargetType:   b.TargetType,
		CreditsSpent: b.CreditsCost,
		UserID:       b.OwnerID,
		StartTime:    b.StartTime,
		EndTime:      b.EndTime,
		Timestamp:    time.Now(),
	})

	return true, nil
}
