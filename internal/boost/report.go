package boost

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"gigworks/api_credits/internal/events"
	"gigworks/api_credits/pkg/logging"
)

// DailyReport summarizes a day of ledger activity on the credit topic
type DailyReport struct {
	EventType        string    `json:"event_type"`
	Date             string    `json:"date"`
	CreditsPurchased int64     `json:"credits_purchased"`
	CreditsSpent     int64     `json:"credits_spent"`
	CreditsDonated   int64     `json:"credits_donated"`
	BoostsExpired    int64     `json:"boosts_expired"`
	ActiveBoosts     int64     `json:"active_boosts"`
	Timestamp        time.Time `json:"timestamp"`
}

// Reporter publishes the daily ledger summary. It runs on a cron schedule
// owned by the bootstrap, separate from the expiry sweep.
type Reporter struct {
	manager *Manager
	cron    *cron.Cron
}

// NewReporter creates the daily report job
func NewReporter(manager *Manager) *Reporter {
	return &Reporter{
		manager: manager,
		cron:    cron.New(),
	}
}

// Start schedules the report shortly after midnight
func (r *Reporter) Start() error {
	if _, err := r.cron.AddFunc("5 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := r.RunOnce(ctx, time.Now().AddDate(0, 0, -1)); err != nil {
			r.manager.logger.WithError(err).Error("Daily credit report failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule daily report: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop stops the schedule
func (r *Reporter) Stop() {
	r.cron.Stop()
}

// RunOnce aggregates one day of ledger activity and publishes it
func (r *Reporter) RunOnce(ctx context.Context, day time.Time) error {
	m := r.manager
	date := day.Format("2006-01-02")

	report := DailyReport{
		EventType: events.EventDailyReport,
		Date:      date,
		Timestamp: time.Now(),
	}

	err := m.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'PURCHASE'), 0),
			COALESCE(SUM(-amount) FILTER (WHERE type IN ('BOOST_PROFILE', 'BOOST_GIG', 'BOOST_CLAN')), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'CONTRIBUTION' AND amount > 0), 0),
			COALESCE(COUNT(*) FILTER (WHERE type = 'BOOST_EXPIRED'), 0)
		FROM credit_transactions
		WHERE created_at >= $1::date AND created_at < ($1::date + INTERVAL '1 day')
	`, date).Scan(&report.CreditsPurchased, &report.CreditsSpent, &report.CreditsDonated, &report.BoostsExpired)
	if err != nil {
		return fmt.Errorf("failed to aggregate daily ledger: %w", err)
	}

	if err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM boosts WHERE is_active = true
	`).Scan(&report.ActiveBoosts); err != nil {
		return fmt.Errorf("failed to count active boosts: %w", err)
	}

	m.publisher.Publish(events.RoutingKeyCredit, events.EventDailyReport, report)

	m.logger.WithFields(logging.Fields{
		"date":              date,
		"credits_purchased": report.CreditsPurchased,
		"credits_spent":     report.CreditsSpent,
		"credits_donated":   report.CreditsDonated,
	}).Info("Published daily credit report")

	return nil
}
