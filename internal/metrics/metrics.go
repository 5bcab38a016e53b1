package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerPostings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_postings_total",
		Help: "Ledger postings by kind and result (created, duplicate, error).",
	}, []string{"kind", "result"})

	BenefitDaysReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benefit_days_released_total",
		Help: "Benefit days released by the daily tick.",
	})

	BenefitDaysFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "benefit_days_failed_total",
		Help: "Benefit day release attempts that errored.",
	})

	CommissionsUnlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "commissions_unlocked_total",
		Help: "Commission records promoted pending to available.",
	})

	WalletAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_acquires_total",
		Help: "Wallet pool acquire attempts by result (ok, retry, exhausted, error).",
	}, []string{"result"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_job_runs_total",
		Help: "Batch job runs by job name and terminal status.",
	}, []string{"job", "status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batch_job_duration_seconds",
		Help:    "Wall-clock duration of batch job runs.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"job"})
)
