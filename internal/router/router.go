package router

import (
	"licensing-service/internal/handler"
	"licensing-service/internal/repository"
	benefituc "licensing-service/internal/usecase/benefit"
	commissionuc "licensing-service/internal/usecase/commission"
	ledgeruc "licensing-service/internal/usecase/ledger"
	purchaseuc "licensing-service/internal/usecase/purchase"
	walletuc "licensing-service/internal/usecase/walletpool"
	"licensing-service/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Deps struct {
	DB          *pgxpool.Pool
	Redis       redis.UniversalClient
	Ledger      *ledgeruc.Usecase
	Purchases   *purchaseuc.Usecase
	Benefits    *benefituc.Usecase
	Commissions *commissionuc.Usecase
	Pool        *walletuc.Usecase
	JobRuns     repository.JobRunRepository
	Runner      *worker.Runner
	BenefitW    *worker.BenefitWorker
	CommissionW *worker.CommissionWorker
}

func New(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.HealthHandler(d.DB, d.Redis, d.Runner))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", handler.CreatePurchaseHandler(d.Purchases))
			r.Get("/{purchaseID}", handler.GetPurchaseHandler(d.Purchases))
			r.Post("/{purchaseID}/confirm", handler.ConfirmPurchaseHandler(d.Purchases))
			r.Post("/{purchaseID}/cancel", handler.CancelPurchaseHandler(d.Purchases))
			r.Post("/{purchaseID}/pause", handler.PausePurchaseHandler(d.Benefits))
			r.Post("/{purchaseID}/resume", handler.ResumePurchaseHandler(d.Benefits))
			r.Get("/{purchaseID}/schedule", handler.PurchaseScheduleHandler(d.Benefits))
			r.Post("/{purchaseID}/reprocess", handler.ReprocessPurchaseHandler(d.Purchases))
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/{userID}/balance", handler.BalanceHandler(d.Ledger))
			r.Get("/{userID}/history", handler.HistoryHandler(d.Ledger))
		})

		r.Post("/withdrawals", handler.WithdrawHandler(d.Purchases))
		r.Get("/commissions/{userID}", handler.CommissionsByRecipientHandler(d.Commissions))

		r.Route("/wallets", func(r chi.Router) {
			r.Post("/", handler.AddWalletHandler(d.Pool))
			r.Get("/{address}", handler.GetWalletHandler(d.Pool))
			r.Post("/{address}/disable", handler.DisableWalletHandler(d.Pool))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", handler.ListJobRunsHandler(d.JobRuns))
			r.Post("/{jobName}/run", handler.TriggerJobHandler(d.BenefitW, d.CommissionW))
		})
	})

	return r
}
