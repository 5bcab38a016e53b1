package handler

import (
	"net/http"

	"licensing-service/internal/repository"
	"licensing-service/internal/usecase/purchase"
	"licensing-service/internal/utils/response"
	"licensing-service/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ListJobRunsHandler exposes the last outcome of every batch job.
func ListJobRunsHandler(jobs repository.JobRunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := jobs.List(r.Context())
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch job runs")
			return
		}
		response.JSON(w, r, http.StatusOK, runs)
	}
}

// TriggerJobHandler lets an operator force one job run outside the schedule.
// The single-flight guard still applies.
func TriggerJobHandler(bw *worker.BenefitWorker, cw *worker.CommissionWorker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "jobName")
		switch name {
		case worker.JobBenefitRelease:
			bw.RunOnce(r.Context())
		case worker.JobCommissionUnlock:
			cw.RunOnce(r.Context())
		default:
			response.Error(w, r, http.StatusNotFound, "Unknown job")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"job": name, "state": "ran"})
	}
}

// ReprocessPurchaseHandler re-runs the confirmation fan-out; operator tool
// for healing partially failed confirmations.
func ReprocessPurchaseHandler(uc *purchase.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "purchaseID")
		if err := uc.Reprocess(r.Context(), id); err != nil {
			response.Error(w, r, http.StatusInternalServerError, "Reprocess failed: "+err.Error())
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"purchase_id": id, "state": "reprocessed"})
	}
}

// HealthHandler aggregates DB, redis and job staleness into one probe.
func HealthHandler(db *pgxpool.Pool, rdb redis.UniversalClient, runner *worker.Runner) http.HandlerFunc {
	jobNames := []string{worker.JobBenefitRelease, worker.JobCommissionUnlock}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := db.Ping(ctx); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "redis unreachable")
				return
			}
		}
		if err := runner.Health(ctx, jobNames); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, err.Error())
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
