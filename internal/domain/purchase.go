package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus is the lifecycle of a license purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchasePaused    PurchaseStatus = "paused"
	PurchaseCompleted PurchaseStatus = "completed"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// Purchase is a user's confirmed capital placement ("license"). Confirmation
// entitles it to a benefit schedule and triggers referral commissions.
type Purchase struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	PackageCode string          `json:"package_code"`
	Principal   decimal.Decimal `json:"principal"`
	Currency    string          `json:"currency"`
	Status      PurchaseStatus  `json:"status"`
	TxHash      *string         `json:"tx_hash,omitempty"` // recorded, never verified on-chain
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	PausedAt    *time.Time      `json:"paused_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// User carries the referral chain fields the commission engine needs.
type User struct {
	ID         string    `json:"id"`
	ReferrerID *string   `json:"referrer_id,omitempty"`
	Cohort     string    `json:"cohort"`
	CreatedAt  time.Time `json:"created_at"`
}
