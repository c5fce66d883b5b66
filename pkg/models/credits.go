package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OwnerType identifies what kind of account a wallet belongs to
type OwnerType string

const (
	OwnerUser OwnerType = "user"
	OwnerClan OwnerType = "clan"
)

// TransactionType classifies ledger entries
type TransactionType string

const (
	TxPurchase       TransactionType = "PURCHASE"
	TxBoostProfile   TransactionType = "BOOST_PROFILE"
	TxBoostGig       TransactionType = "BOOST_GIG"
	TxBoostClan      TransactionType = "BOOST_CLAN"
	TxBoostExpired   TransactionType = "BOOST_EXPIRED"
	TxContribution   TransactionType = "CONTRIBUTION"
	TxGigCompletion  TransactionType = "GIG_COMPLETION"
	TxAdminAward     TransactionType = "ADMIN_AWARD"
	TxReferralReward TransactionType = "REFERRAL_REWARD"
)

// BoostType identifies what kind of entity a boost promotes
type BoostType string

const (
	BoostProfile BoostType = "PROFILE"
	BoostGig     BoostType = "GIG"
	BoostClan    BoostType = "CLAN"
)

// PaymentStatus tracks the lifecycle of a gateway payment
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Wallet is a credit-holding account for a user or a clan. Wallets are
// created lazily on first reference and never deleted.
type Wallet struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	OwnerType   OwnerType `json:"owner_type"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalSpent  int64     `json:"total_spent"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreditTransaction is an immutable, append-only ledger entry. For a given
// wallet the entries form a strict chain: each balance_before equals the
// previous entry's balance_after.
type CreditTransaction struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"wallet_id"`
	Type          TransactionType `json:"type"`
	Amount        int64           `json:"amount"`
	BalanceBefore int64           `json:"balance_before"`
	BalanceAfter  int64           `json:"balance_after"`
	RelatedID     string          `json:"related_id,omitempty"`
	RelatedType   string          `json:"related_type,omitempty"`
	Description   string          `json:"description,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Boost is a time-bounded visibility enhancement paid for in credits.
// It transitions is_active true->false exactly once, by the expiry sweep.
type Boost struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"wallet_id"`
	BoostType     BoostType `json:"boost_type"`
	TargetID      string    `json:"target_id"`
	TargetType    string    `json:"target_type"`
	CreditsCost   int64     `json:"credits_cost"`
	DurationHours int       `json:"duration_hours"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaymentRecord tracks a credit purchase through an external payment
// gateway from order creation to webhook confirmation.
type PaymentRecord struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	PackageID        string          `json:"package_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Credits          int64           `json:"credits"`
	Gateway          string          `json:"gateway"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Status           PaymentStatus   `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CreditPackage is a purchasable bundle of credits
type CreditPackage struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Credits  int64           `json:"credits"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
}

// BoostPricing is the configured cost and duration bounds for a boost type
type BoostPricing struct {
	BoostType            BoostType `json:"boost_type"`
	CreditsCost          int64     `json:"credits_cost"`
	DefaultDurationHours int       `json:"default_duration_hours"`
	MaxDurationHours     int       `json:"max_duration_hours"`
}
