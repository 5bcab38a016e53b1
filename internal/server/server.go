package server

import (
	"context"
	"net/http"
	"time"

	"licensing-service/internal/alert"
	"licensing-service/internal/config"
	"licensing-service/internal/domain"
	"licensing-service/internal/repository"
	"licensing-service/internal/router"
	benefituc "licensing-service/internal/usecase/benefit"
	commissionuc "licensing-service/internal/usecase/commission"
	ledgeruc "licensing-service/internal/usecase/ledger"
	purchaseuc "licensing-service/internal/usecase/purchase"
	walletuc "licensing-service/internal/usecase/walletpool"
	"licensing-service/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	httpServer  *http.Server
	db          *pgxpool.Pool
	rdb         redis.UniversalClient
	alerts      *alert.Publisher
	benefitW    *worker.BenefitWorker
	commissionW *worker.CommissionWorker
	workerCtx   context.CancelFunc
	log         *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	db, err := config.ConnectDB(cfg)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})

	alerts := alert.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, log)

	ledgerRepo := repository.NewLedgerRepo(db)
	walletRepo := repository.NewWalletRepo(db)
	scheduleRepo := repository.NewScheduleRepo(db)
	commissionRepo := repository.NewCommissionRepo(db)
	purchaseRepo := repository.NewPurchaseRepo(db)
	jobRunRepo := repository.NewJobRunRepo(db)
	cohortRepo := repository.NewCohortRepo(db)
	userRepo := repository.NewUserRepo(db)

	ledgerUC := ledgeruc.NewUsecase(ledgerRepo, rdb, log)
	poolUC := walletuc.NewUsecase(walletRepo, walletuc.Options{
		Policy:          domain.SelectionPolicy(cfg.Pool.Policy),
		AssignmentTTL:   cfg.Pool.AssignmentTTL,
		DefaultCooldown: cfg.Pool.DefaultCooldown,
	}, log)
	benefitUC := benefituc.NewUsecase(scheduleRepo, purchaseRepo, ledgerUC, cfg.Benefit, log)
	commissionUC := commissionuc.NewUsecase(commissionRepo, userRepo, purchaseRepo, cohortRepo, ledgerUC, cfg.Referral, log)
	purchaseUC := purchaseuc.NewUsecase(purchaseRepo, ledgerUC, benefitUC, commissionUC, poolUC, log)

	runner := worker.NewRunner(jobRunRepo, rdb, alerts, cfg.Jobs, log)
	benefitW := worker.NewBenefitWorker(benefitUC, runner, cfg.Jobs, log)
	commissionW := worker.NewCommissionWorker(commissionUC, runner, cfg.Jobs, log)

	r := router.New(router.Deps{
		DB:          db,
		Redis:       rdb,
		Ledger:      ledgerUC,
		Purchases:   purchaseUC,
		Benefits:    benefitUC,
		Commissions: commissionUC,
		Pool:        poolUC,
		JobRuns:     jobRunRepo,
		Runner:      runner,
		BenefitW:    benefitW,
		CommissionW: commissionW,
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		db:          db,
		rdb:         rdb,
		alerts:      alerts,
		benefitW:    benefitW,
		commissionW: commissionW,
		log:         log,
	}, nil
}

func (s *Server) ListenAndServe() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.workerCtx = cancel
	go s.benefitW.Start(ctx)
	go s.commissionW.Start(ctx)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.workerCtx != nil {
		s.workerCtx()
	}
	s.benefitW.Stop()
	s.commissionW.Stop()

	defer func() {
		s.db.Close()
		if err := s.rdb.Close(); err != nil {
			s.log.Warn("failed to close redis client", zap.Error(err))
		}
		if err := s.alerts.Close(); err != nil {
			s.log.Warn("failed to close alert publisher", zap.Error(err))
		}
	}()
	return s.httpServer.Shutdown(ctx)
}
