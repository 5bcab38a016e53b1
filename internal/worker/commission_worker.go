package worker

import (
	"context"
	"time"

	"licensing-service/internal/config"
	"licensing-service/internal/usecase/commission"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobCommissionUnlock is the persisted name of the unlock sweep job.
const JobCommissionUnlock = "commission_unlock"

// CommissionWorker drives the daily commission unlock sweep.
type CommissionWorker struct {
	commissions *commission.Usecase
	runner      *Runner
	cfg         config.JobsConfig
	logger      *zap.Logger
	stopChan    chan bool
}

func NewCommissionWorker(commissions *commission.Usecase, runner *Runner, cfg config.JobsConfig, logger *zap.Logger) *CommissionWorker {
	return &CommissionWorker{
		commissions: commissions,
		runner:      runner,
		cfg:         cfg,
		logger:      logger,
		stopChan:    make(chan bool),
	}
}

func (cw *CommissionWorker) Start(ctx context.Context) {
	cw.logger.Info("Starting commission unlock worker",
		zap.Duration("interval", cw.cfg.TickInterval))

	ticker := time.NewTicker(cw.cfg.TickInterval)
	defer ticker.Stop()

	cw.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			cw.RunOnce(ctx)

		case <-cw.stopChan:
			cw.logger.Info("Stopping commission unlock worker")
			return

		case <-ctx.Done():
			cw.logger.Info("Context cancelled, stopping commission unlock worker")
			return
		}
	}
}

// RunOnce executes a single sweep under the runner's single-flight guard.
func (cw *CommissionWorker) RunOnce(ctx context.Context) {
	cw.runner.Run(ctx, JobCommissionUnlock, cw.cfg.CommissionReleaseEnabled,
		func(ctx context.Context, asOf time.Time) (int, int, decimal.Decimal, error) {
			res, err := cw.commissions.UnlockTick(ctx, asOf)
			return res.Promoted + res.Failed, res.Failed, res.TotalAmount, err
		})
}

func (cw *CommissionWorker) Stop() {
	close(cw.stopChan)
}
