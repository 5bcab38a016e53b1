package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BenefitDayStatus is the state machine of a single accrual day.
type BenefitDayStatus string

const (
	BenefitDayScheduled BenefitDayStatus = "scheduled"
	BenefitDayReleased  BenefitDayStatus = "released"
	BenefitDayFailed    BenefitDayStatus = "failed"
)

// BenefitSchedule is one accrual cycle of a purchase. A purchase owns five
// of these, each covering eight production days followed by one pause day.
type BenefitSchedule struct {
	ID             string          `json:"id"`
	PurchaseID     string          `json:"purchase_id"`
	Cycle          int             `json:"cycle"` // 1..5
	StartAt        time.Time       `json:"start_at"`
	ProductionDays int             `json:"production_days"`
	DailyAmount    decimal.Decimal `json:"daily_amount"`
	Principal      decimal.Decimal `json:"principal"`
	CreatedAt      time.Time       `json:"created_at"`

	Days []*BenefitDay `json:"days,omitempty"`
}

// BenefitDay is one due accrual within a schedule.
type BenefitDay struct {
	ID         string           `json:"id"`
	ScheduleID string           `json:"schedule_id"`
	PurchaseID string           `json:"purchase_id"`
	Cycle      int              `json:"cycle"`
	DayIndex   int              `json:"day_index"` // 1..8
	DueAt      time.Time        `json:"due_at"`
	Amount     decimal.Decimal  `json:"amount"`
	Status     BenefitDayStatus `json:"status"`
	Attempts   int              `json:"attempts"`
	LedgerID   *string          `json:"ledger_id,omitempty"`
	LastError  *string          `json:"last_error,omitempty"`
	ReleasedAt *time.Time       `json:"released_at,omitempty"`
}
