package domain

import "time"

// WalletStatus is the pool state of a payment-collection address.
type WalletStatus string

const (
	WalletAvailable WalletStatus = "available"
	WalletAssigned  WalletStatus = "assigned"
	WalletCooldown  WalletStatus = "cooldown"
	WalletDisabled  WalletStatus = "disabled"
)

// SelectionPolicy chooses how the pool rotates addresses.
type SelectionPolicy string

const (
	// PolicyRandom picks uniformly among available addresses so observers
	// cannot correlate addresses to purchases.
	PolicyRandom SelectionPolicy = "random"
	// PolicyLRS picks the least-recently-shown address for even utilization.
	PolicyLRS SelectionPolicy = "lrs"
)

// WalletAddress is one member of the payment-collection pool. At most one
// active assignment exists per address; addresses are soft-disabled, never
// deleted, while historical assignments reference them.
type WalletAddress struct {
	ID       string       `json:"id"`
	Address  string       `json:"address"`
	Network  string       `json:"network"`
	Currency string       `json:"currency"`
	Purpose  string       `json:"purpose"`
	Status   WalletStatus `json:"status"`

	AssignedPurchaseID *string    `json:"assigned_purchase_id,omitempty"`
	AssignedUserID     *string    `json:"assigned_user_id,omitempty"`
	AssignedUntil      *time.Time `json:"assigned_until,omitempty"`
	CooldownUntil      *time.Time `json:"cooldown_until,omitempty"`

	LastShownAt *time.Time `json:"last_shown_at,omitempty"`
	ShownCount  int64      `json:"shown_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
