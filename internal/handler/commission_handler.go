package handler

import (
	"net/http"
	"strconv"

	commissionuc "licensing-service/internal/usecase/commission"
	"licensing-service/internal/utils/response"

	"github.com/go-chi/chi/v5"
)

func CommissionsByRecipientHandler(uc *commissionuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if userID == "" {
			response.Error(w, r, http.StatusBadRequest, "Missing user ID")
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			limit, _ = strconv.Atoi(v)
		}

		records, err := uc.ListByRecipient(r.Context(), userID, limit)
		if err != nil {
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch commissions")
			return
		}
		response.JSON(w, r, http.StatusOK, records)
	}
}
