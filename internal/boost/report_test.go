package boost

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestDailyReportAggregatesLedger(t *testing.T) {
	m, mock, done := newTestManager(t, &fakeAdapter{})
	defer done()

	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT").
		WithArgs("2026-08-28").
		WillReturnRows(sqlmock.NewRows([]string{"purchased", "spent", "donated", "expired"}).
			AddRow(int64(1200), int64(180), int64(250), int64(4)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM boosts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	reporter := NewReporter(m)
	if err := reporter.RunOnce(context.Background(), day); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
