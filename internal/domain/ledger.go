package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryKindPurchase         EntryKind = "purchase"
	EntryKindBenefit          EntryKind = "benefit"
	EntryKindDirectCommission EntryKind = "direct_referral_commission"
	EntryKindParentCommission EntryKind = "parent_bonus_commission"
	EntryKindWithdrawal       EntryKind = "withdrawal"
	EntryKindAdjustment       EntryKind = "adjustment"
	EntryKindTransfer         EntryKind = "transfer"
)

// EntryStatus is the lifecycle status of a ledger entry.
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusConfirmed EntryStatus = "confirmed"
	EntryStatusFailed    EntryStatus = "failed"
	EntryStatusCancelled EntryStatus = "cancelled"
)

// LedgerEntry is a single append-only financial event. Immutable once created;
// only the status may transition, and reversals are compensating entries.
type LedgerEntry struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Kind           EntryKind       `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	Status         EntryStatus     `json:"status"`
	IdempotencyKey string          `json:"idempotency_key"`
	Reference      EntryReference  `json:"reference"`
	Metadata       *string         `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// EntryReference links an entry back to the purchase, schedule or commission
// record that produced it.
type EntryReference struct {
	PurchaseID   *string `json:"purchase_id,omitempty"`
	ScheduleID   *string `json:"schedule_id,omitempty"`
	CommissionID *string `json:"commission_id,omitempty"`
	ExternalRef  *string `json:"external_ref,omitempty"`
}

// LedgerFilter narrows a history query.
type LedgerFilter struct {
	Kind   *EntryKind
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// Idempotency key derivation. Every writer derives its key from the same
// scheme so a logical financial event maps to exactly one key system-wide.

// BenefitKey identifies one benefit day posting.
func BenefitKey(purchaseID string, cycle, day int) string {
	return fmt.Sprintf("benefit_%s_%d_%d", purchaseID, cycle, day)
}

// ReferralKey identifies one commission payout posting.
func ReferralKey(purchaseID, recipientID string) string {
	return fmt.Sprintf("referral_%s_%s", purchaseID, recipientID)
}

// PurchaseKey identifies the principal debit of a confirmed purchase.
func PurchaseKey(purchaseID string) string {
	return fmt.Sprintf("purchase_%s", purchaseID)
}

// WithdrawalKey identifies one withdrawal debit.
func WithdrawalKey(requestID string) string {
	return fmt.Sprintf("withdrawal_%s", requestID)
}
