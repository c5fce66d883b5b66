package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gigworks/api_credits/pkg/logging"
)

// Routing keys, mapped one-to-one onto bus topics
const (
	RoutingKeyBoost  = "boost.event"
	RoutingKeyCredit = "credit.event"
)

// Event types carried on the bus
const (
	EventBoostApplied       = "BOOST_APPLIED"
	EventBoostExpired       = "BOOST_EXPIRED"
	EventCreditsPurchased   = "CREDITS_PURCHASED"
	EventCreditsAwarded     = "CREDITS_AWARDED"
	EventCreditsContributed = "CREDITS_CONTRIBUTED"
	EventDailyReport        = "DAILY_REPORT"
)

// BoostEvent is the payload published on boost.event
type BoostEvent struct {
	EventType    string    `json:"event_type"`
	BoostType    string    `json:"boost_type"`
	TargetID     string    `json:"target_id"`
	TargetType   string    `json:"target_type"`
	CreditsSpent int64     `json:"credits_spent"`
	UserID       string    `json:"user_id"`
	StartTime    time.Time `json:"start_time,omitempty"`
	EndTime      time.Time `json:"end_time,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// CreditEvent is the payload published on credit.event
type CreditEvent struct {
	EventType   string    `json:"event_type"`
	UserID      string    `json:"user_id,omitempty"`
	WalletID    string    `json:"wallet_id,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	Balance     int64     `json:"balance,omitempty"`
	Description string    `json:"description,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// busProducer is the slice of the Kafka producer the publisher needs
type busProducer interface {
	ProduceMessage(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// Publisher emits domain events to the platform bus. Delivery is advisory:
// the ledger is the source of truth, so publish failures are logged and
// swallowed, and publication never adds latency to the request path.
type Publisher struct {
	producer busProducer
	logger   logging.Logger
	timeout  time.Duration
}

// NewPublisher creates an event publisher over a bus producer
func NewPublisher(producer busProducer, logger logging.Logger) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   logger,
		timeout:  5 * time.Second,
	}
}

// Publish emits an event asynchronously. It never blocks the caller and
// never returns an error; a nil producer turns it into a no-op.
func (p *Publisher) Publish(routingKey, eventType string, payload interface{}) {
	if p == nil || p.producer == nil {
		return
	}

	value, err := json.Marshal(payload)
	if err != nil {
		p.logger.WithError(err).WithField("event_type", eventType).Error("Failed to marshal event payload")
		return
	}

	key := []byte(uuid.New().String())
	headers := map[string]string{
		"source":     "bursar",
		"event_type": eventType,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if err := p.producer.ProduceMessage(ctx, routingKey, key, value, headers); err != nil {
			p.logger.WithError(err).WithFields(logging.Fields{
				"routing_key": routingKey,
				"event_type":  eventType,
			}).Warn("Failed to publish event")
		}
	}()
}
