package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionTier distinguishes the two referral levels.
type CommissionTier string

const (
	TierDirect      CommissionTier = "direct"
	TierParentBonus CommissionTier = "parent_bonus"
)

// CommissionStatus transitions pending -> available -> paid, or to cancelled
// from pending/available.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionAvailable CommissionStatus = "available"
	CommissionPaid      CommissionStatus = "paid"
	CommissionCancelled CommissionStatus = "cancelled"
)

// CommissionRecord is one commission owed to one recipient for one purchase.
// Computed eagerly at purchase confirmation, unlocked by the daily sweep.
type CommissionRecord struct {
	ID           string           `json:"id"`
	RecipientID  string           `json:"recipient_id"`
	SourceUserID string           `json:"source_user_id"` // the buyer
	ViaUserID    *string          `json:"via_user_id,omitempty"`
	PurchaseID   string           `json:"purchase_id"`
	Tier         CommissionTier   `json:"tier"`
	Rate         decimal.Decimal  `json:"rate"`
	BaseAmount   decimal.Decimal  `json:"base_amount"`
	Amount       decimal.Decimal  `json:"amount"`
	Status       CommissionStatus `json:"status"`
	UnlockAt     time.Time        `json:"unlock_at"`
	UnlockedAt   *time.Time       `json:"unlocked_at,omitempty"`
	LedgerID     *string          `json:"ledger_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// CohortConfig carries per-cohort commission and benefit rates. Fetched from
// the cohort store at computation time; missing rows degrade to defaults.
type CohortConfig struct {
	Cohort           string          `json:"cohort"`
	DirectRate       decimal.Decimal `json:"direct_rate"`
	ParentRate       decimal.Decimal `json:"parent_rate"`
	DirectUnlockDays int             `json:"direct_unlock_days"`
	ParentUnlockDays int             `json:"parent_unlock_days"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
