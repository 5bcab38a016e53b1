package worker

import (
	"context"
	"time"

	"licensing-service/internal/config"
	"licensing-service/internal/usecase/benefit"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// JobBenefitRelease is the persisted name of the daily accrual job.
const JobBenefitRelease = "benefit_release"

// BenefitWorker drives the daily accrual tick.
type BenefitWorker struct {
	benefits *benefit.Usecase
	runner   *Runner
	cfg      config.JobsConfig
	logger   *zap.Logger
	stopChan chan bool
}

func NewBenefitWorker(benefits *benefit.Usecase, runner *Runner, cfg config.JobsConfig, logger *zap.Logger) *BenefitWorker {
	return &BenefitWorker{
		benefits: benefits,
		runner:   runner,
		cfg:      cfg,
		logger:   logger,
		stopChan: make(chan bool),
	}
}

func (bw *BenefitWorker) Start(ctx context.Context) {
	bw.logger.Info("Starting benefit release worker",
		zap.Duration("interval", bw.cfg.TickInterval))

	ticker := time.NewTicker(bw.cfg.TickInterval)
	defer ticker.Stop()

	// One run at startup covers days that came due while the service was down.
	bw.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			bw.RunOnce(ctx)

		case <-bw.stopChan:
			bw.logger.Info("Stopping benefit release worker")
			return

		case <-ctx.Done():
			bw.logger.Info("Context cancelled, stopping benefit release worker")
			return
		}
	}
}

// RunOnce executes a single tick under the runner's single-flight guard.
func (bw *BenefitWorker) RunOnce(ctx context.Context) {
	bw.runner.Run(ctx, JobBenefitRelease, bw.cfg.BenefitReleaseEnabled,
		func(ctx context.Context, asOf time.Time) (int, int, decimal.Decimal, error) {
			res, err := bw.benefits.Tick(ctx, asOf)
			return res.Processed, res.Failed, res.TotalAmount, err
		})
}

func (bw *BenefitWorker) Stop() {
	close(bw.stopChan)
}
