package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"licensing-service/internal/domain"
	ledgeruc "licensing-service/internal/usecase/ledger"
	purchaseuc "licensing-service/internal/usecase/purchase"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func BalanceHandler(uc *ledgeruc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		balance, err := uc.BalanceOf(r.Context(), userID)
		if err != nil {
			if errors.Is(err, xerrors.ErrInvalidInput) {
				response.Error(w, r, http.StatusBadRequest, "Missing user ID")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch balance")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{
			"user_id": userID,
			"balance": balance.String(),
		})
	}
}

func HistoryHandler(uc *ledgeruc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		filter := &domain.LedgerFilter{}

		q := r.URL.Query()
		if v := q.Get("kind"); v != "" {
			kind := domain.EntryKind(v)
			filter.Kind = &kind
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}
		if v := q.Get("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Offset = n
			}
		}
		if v := q.Get("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.From = &t
			}
		}
		if v := q.Get("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.To = &t
			}
		}

		entries, err := uc.HistoryOf(r.Context(), userID, filter)
		if err != nil {
			if errors.Is(err, xerrors.ErrInvalidInput) {
				response.Error(w, r, http.StatusBadRequest, "Missing user ID")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch history")
			return
		}
		response.JSON(w, r, http.StatusOK, entries)
	}
}

func WithdrawHandler(uc *purchaseuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			UserID    string `json:"user_id"`
			RequestID string `json:"request_id"`
			Amount    string `json:"amount"`
			Currency  string `json:"currency"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, r, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.UserID == "" || body.RequestID == "" {
			response.Error(w, r, http.StatusBadRequest, "Missing user_id or request_id")
			return
		}
		amount, err := decimal.NewFromString(body.Amount)
		if err != nil || !amount.IsPositive() {
			response.Error(w, r, http.StatusBadRequest, "Invalid amount")
			return
		}
		if body.Currency == "" {
			body.Currency = "USDT"
		}

		entry, err := uc.Withdraw(r.Context(), body.UserID, body.RequestID, amount, body.Currency)
		if err != nil {
			switch {
			case errors.Is(err, xerrors.ErrNegativeBalance):
				response.Error(w, r, http.StatusUnprocessableEntity, "Insufficient balance")
			case errors.Is(err, xerrors.ErrInvalidInput):
				response.Error(w, r, http.StatusBadRequest, err.Error())
			default:
				response.Error(w, r, http.StatusInternalServerError, "Failed to post withdrawal")
			}
			return
		}
		response.JSON(w, r, http.StatusOK, entry)
	}
}
