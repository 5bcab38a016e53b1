package id

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity prefixes keep ids recognizable in logs and support staff tooling.
const (
	PrefixLedger     = "led"
	PrefixSchedule   = "sch"
	PrefixBenefitDay = "day"
	PrefixCommission = "com"
	PrefixPurchase   = "pur"
	PrefixWallet     = "wal"
)

// New returns a prefixed, lexicographically sortable id, e.g. led_01J8....
func New(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return prefix + "_" + id.String()
}
