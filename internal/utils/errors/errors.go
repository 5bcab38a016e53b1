package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Generic
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input provided")
)

// Ledger
var (
	ErrNegativeBalance = errors.New("posting would produce a negative balance")
	ErrEntryImmutable  = errors.New("ledger entries cannot be edited after confirmation")
)

// Wallet pool
var (
	ErrNoWalletAvailable = errors.New("no wallet currently available, try again shortly")
	ErrWalletNotAssigned = errors.New("wallet address is not currently assigned")
)

// Purchases / commissions
var (
	ErrPurchaseNotConfirmed = errors.New("purchase is not confirmed")
	ErrAlreadyConfirmed     = errors.New("purchase already confirmed")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation. Writers treat this as a confirmed no-op, never as a failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
