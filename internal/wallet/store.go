package wallet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"gigworks/api_credits/pkg/logging"
	"gigworks/api_credits/pkg/models"
)

// maxApplyRetries bounds the internal retry loop on serialization failures.
const maxApplyRetries = 3

// Store owns wallet balances and the append-only credit ledger. It is the
// only component allowed to mutate balances; it never calls out to other
// services or the event bus.
type Store struct {
	db      *sql.DB
	logger  logging.Logger
	metrics *Metrics
}

// NewStore creates a wallet store over the given database handle
func NewStore(db *sql.DB, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Metrics instruments ledger queries. Nil fields are no-ops, so tests and
// secondary stores can skip instrumentation.
type Metrics struct {
	Queries  *prometheus.CounterVec   // labels: query_type, status
	Duration *prometheus.HistogramVec // labels: query_type
}

// Instrument attaches query metrics to the store
func (s *Store) Instrument(m *Metrics) {
	s.metrics = m
}

func (s *Store) observe(queryType string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	if s.metrics.Queries != nil {
		s.metrics.Queries.WithLabelValues(queryType, status).Inc()
	}
	if s.metrics.Duration != nil {
		s.metrics.Duration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
	}
}

// TransactionRequest describes a single ledger mutation
type TransactionRequest struct {
	WalletID    string
	Type        models.TransactionType
	Amount      int64
	RelatedID   string
	RelatedType string
	Description string
	Metadata    json.RawMessage
}

// GetOrCreate returns the wallet for an owner, creating it with a zero
// balance on first reference. Idempotent under concurrent callers.
func (s *Store) GetOrCreate(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.Wallet, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, owner_type)
		VALUES ($1, $2)
		ON CONFLICT (owner_id, owner_type) DO NOTHING
	`, ownerID, ownerType)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return s.ByOwner(ctx, ownerID, ownerType)
}

// ByOwner returns the wallet belonging to an owner
func (s *Store) ByOwner(ctx context.Context, ownerID string, ownerType models.OwnerType) (*models.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, balance, total_earned, total_spent, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1 AND owner_type = $2
	`, ownerID, ownerType)

	return scanWallet(row)
}

// ByID returns a wallet by its primary key
func (s *Store) ByID(ctx context.Context, walletID string) (*models.Wallet, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, balance, total_earned, total_spent, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, walletID)

	return scanWallet(row)
}

// Apply is the sole balance-mutation primitive. It writes a ledger row and
// the new balance as one database transaction, serialized per wallet by a
// row lock so concurrent debits cannot observe the same stale balance.
// Serialization conflicts are retried internally and never surfaced.
func (s *Store) Apply(ctx context.Context, req TransactionRequest) (*models.Wallet, *models.CreditTransaction, error) {
	var lastErr error
	for attempt := 0; attempt < maxApplyRetries; attempt++ {
		w, txn, err := s.applyOnce(ctx, req)
		if err == nil {
			return w, txn, nil
		}
		if !IsSerializationError(err) {
			return nil, nil, err
		}
		lastErr = err
		s.logger.WithFields(logging.Fields{
			"wallet_id": req.WalletID,
			"type":      req.Type,
			"attempt":   attempt + 1,
		}).Warn("Retrying ledger transaction after serialization conflict")
	}
	return nil, nil, fmt.Errorf("ledger transaction failed after %d attempts: %w", maxApplyRetries, lastErr)
}

func (s *Store) applyOnce(ctx context.Context, req TransactionRequest) (*models.Wallet, *models.CreditTransaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	w, txn, err := s.ApplyTx(ctx, tx, req)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit ledger transaction: %w", err)
	}

	return w, txn, nil
}

// ApplyTx performs the ledger mutation inside a caller-owned transaction so
// multi-leg operations (contributions, payment confirmation) share one
// atomic scope. The caller owns commit and rollback; serialization errors
// are returned as-is because the enclosing transaction must restart whole.
func (s *Store) ApplyTx(ctx context.Context, tx *sql.Tx, req TransactionRequest) (*models.Wallet, *models.CreditTransaction, error) {
	start := time.Now()
	w, txn, err := s.applyTx(ctx, tx, req)
	s.observe("ledger_apply", start, err)
	return w, txn, err
}

func (s *Store) applyTx(ctx context.Context, tx *sql.Tx, req TransactionRequest) (*models.Wallet, *models.CreditTransaction, error) {
	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, owner_type, balance, total_earned, total_spent, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, req.WalletID).Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if req.Amount < 0 && w.Balance+req.Amount < 0 {
		return nil, nil, ErrInsufficientBalance
	}

	txn := models.CreditTransaction{
		WalletID:      w.ID,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  w.Balance + req.Amount,
		RelatedID:     req.RelatedID,
		RelatedType:   req.RelatedType,
		Description:   req.Description,
		Metadata:      req.Metadata,
	}

	metadata := req.Metadata
	if metadata == nil {
		metadata = json.RawMessage(`{}`)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_transactions (
			wallet_id, type, amount, balance_before, balance_after,
			related_id, related_type, description, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, txn.WalletID, txn.Type, txn.Amount, txn.BalanceBefore, txn.BalanceAfter,
		nullable(txn.RelatedID), nullable(txn.RelatedType), txn.Description, []byte(metadata),
	).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	w.Balance += req.Amount
	if req.Amount >= 0 {
		w.TotalEarned += req.Amount
	} else {
		w.TotalSpent += -req.Amount
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, total_earned = $2, total_spent = $3, updated_at = NOW()
		WHERE id = $4
	`, w.Balance, w.TotalEarned, w.TotalSpent, w.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update wallet balance: %w", err)
	}

	return &w, &txn, nil
}

// Begin exposes a database transaction for multi-leg ledger operations
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// Transactions returns a page of a wallet's ledger, newest first,
// optionally filtered by transaction type.
func (s *Store) Transactions(ctx context.Context, walletID string, page, limit int, txType models.TransactionType) ([]models.CreditTransaction, int64, error) {
	start := time.Now()
	txns, total, err := s.transactionsPage(ctx, walletID, page, limit, txType)
	s.observe("ledger_page", start, err)
	return txns, total, err
}

func (s *Store) transactionsPage(ctx context.Context, walletID string, page, limit int, txType models.TransactionType) ([]models.CreditTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int64
	countQuery := `SELECT COUNT(*) FROM credit_transactions WHERE wallet_id = $1`
	countArgs := []interface{}{walletID}
	if txType != "" {
		countQuery += ` AND type = $2`
		countArgs = append(countArgs, txType)
	}
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := `
		SELECT id, wallet_id, type, amount, balance_before, balance_after,
		       COALESCE(related_id, ''), COALESCE(related_type, ''), description, metadata, created_at
		FROM credit_transactions
		WHERE wallet_id = $1`
	args := []interface{}{walletID}
	if txType != "" {
		query += ` AND type = $2`
		args = append(args, txType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.CreditTransaction
	for rows.Next() {
		var txn models.CreditTransaction
		var metadata []byte
		if err := rows.Scan(&txn.ID, &txn.WalletID, &txn.Type, &txn.Amount, &txn.BalanceBefore, &txn.BalanceAfter,
			&txn.RelatedID, &txn.RelatedType, &txn.Description, &metadata, &txn.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txn.Metadata = json.RawMessage(metadata)
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txns, total, nil
}

func scanWallet(row *sql.Row) (*models.Wallet, error) {
	var w models.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.OwnerType, &w.Balance, &w.TotalEarned, &w.TotalSpent, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan wallet: %w", err)
	}
	return &w, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// IsSerializationError reports whether an error is a Postgres serialization
// failure or deadlock, both safe to retry from the top.
func IsSerializationError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
