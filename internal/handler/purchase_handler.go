package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	benefituc "licensing-service/internal/usecase/benefit"
	purchaseuc "licensing-service/internal/usecase/purchase"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func CreatePurchaseHandler(uc *purchaseuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			UserID      string `json:"user_id"`
			PackageCode string `json:"package_code"`
			Principal   string `json:"principal"`
			Currency    string `json:"currency"`
			Network     string `json:"network"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, r, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.UserID == "" {
			response.Error(w, r, http.StatusBadRequest, "Missing user_id")
			return
		}
		principal, err := decimal.NewFromString(body.Principal)
		if err != nil || !principal.IsPositive() {
			response.Error(w, r, http.StatusBadRequest, "Invalid principal")
			return
		}

		result, err := uc.Create(r.Context(), purchaseuc.CreateRequest{
			UserID:      body.UserID,
			PackageCode: body.PackageCode,
			Principal:   principal,
			Currency:    body.Currency,
			Network:     body.Network,
		})
		if err != nil {
			if errors.Is(err, xerrors.ErrNoWalletAvailable) {
				// The purchase exists; the caller should retry for an address.
				response.JSON(w, r, http.StatusAccepted, result)
				return
			}
			if errors.Is(err, xerrors.ErrInvalidInput) {
				response.Error(w, r, http.StatusBadRequest, err.Error())
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to create purchase")
			return
		}

		response.JSON(w, r, http.StatusCreated, result)
	}
}

func GetPurchaseHandler(uc *purchaseuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "purchaseID")
		p, err := uc.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				response.Error(w, r, http.StatusNotFound, "Purchase not found")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch purchase")
			return
		}
		response.JSON(w, r, http.StatusOK, p)
	}
}

func ConfirmPurchaseHandler(uc *purchaseuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			TxHash *string `json:"tx_hash"`
		}

		var body requestBody
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		p, err := uc.Confirm(r.Context(), chi.URLParam(r, "purchaseID"), body.TxHash)
		if err != nil {
			switch {
			case errors.Is(err, xerrors.ErrAlreadyConfirmed):
				response.JSON(w, r, http.StatusOK, p)
			case errors.Is(err, xerrors.ErrNotFound):
				response.Error(w, r, http.StatusNotFound, "Purchase not found")
			case errors.Is(err, xerrors.ErrInvalidTransition):
				response.Error(w, r, http.StatusConflict, "Purchase cannot be confirmed from its current status")
			default:
				response.Error(w, r, http.StatusInternalServerError, "Failed to confirm purchase")
			}
			return
		}
		response.JSON(w, r, http.StatusOK, p)
	}
}

func CancelPurchaseHandler(uc *purchaseuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := uc.Cancel(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			switch {
			case errors.Is(err, xerrors.ErrNotFound):
				response.Error(w, r, http.StatusNotFound, "Purchase not found")
			case errors.Is(err, xerrors.ErrInvalidTransition):
				response.Error(w, r, http.StatusConflict, "Purchase can no longer be cancelled")
			default:
				response.Error(w, r, http.StatusInternalServerError, "Failed to cancel purchase")
			}
			return
		}
		response.JSON(w, r, http.StatusOK, p)
	}
}

func PausePurchaseHandler(uc *benefituc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "purchaseID")
		if err := uc.Pause(r.Context(), id); err != nil {
			if errors.Is(err, xerrors.ErrInvalidTransition) {
				response.Error(w, r, http.StatusConflict, "Purchase is not in a pausable state")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to pause purchase")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"purchase_id": id, "state": "paused"})
	}
}

func ResumePurchaseHandler(uc *benefituc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "purchaseID")
		if err := uc.Resume(r.Context(), id); err != nil {
			if errors.Is(err, xerrors.ErrInvalidTransition) {
				response.Error(w, r, http.StatusConflict, "Purchase is not paused")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to resume purchase")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"purchase_id": id, "state": "confirmed"})
	}
}

func PurchaseScheduleHandler(uc *benefituc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		schedules, err := uc.Schedules(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				response.Error(w, r, http.StatusNotFound, "No schedules for purchase")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch schedules")
			return
		}
		response.JSON(w, r, http.StatusOK, schedules)
	}
}
