package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	walletuc "licensing-service/internal/usecase/walletpool"
	xerrors "licensing-service/internal/utils/errors"
	"licensing-service/internal/utils/response"

	"github.com/go-chi/chi/v5"
)

func AddWalletHandler(uc *walletuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type requestBody struct {
			Address  string `json:"address"`
			Network  string `json:"network"`
			Currency string `json:"currency"`
			Purpose  string `json:"purpose"`
		}

		var body requestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, r, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.Purpose == "" {
			body.Purpose = "deposit"
		}

		wa, err := uc.AddAddress(r.Context(), body.Address, body.Network, body.Currency, body.Purpose)
		if err != nil {
			if errors.Is(err, xerrors.ErrInvalidInput) {
				response.Error(w, r, http.StatusBadRequest, "Missing address, network or currency")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to add wallet address")
			return
		}
		response.JSON(w, r, http.StatusCreated, wa)
	}
}

func DisableWalletHandler(uc *walletuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := chi.URLParam(r, "address")
		if err := uc.Disable(r.Context(), address); err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				response.Error(w, r, http.StatusNotFound, "Wallet address not found")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to disable wallet address")
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"address": address, "status": "disabled"})
	}
}

func GetWalletHandler(uc *walletuc.Usecase) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wa, err := uc.Lookup(r.Context(), chi.URLParam(r, "address"))
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				response.Error(w, r, http.StatusNotFound, "Wallet address not found")
				return
			}
			response.Error(w, r, http.StatusInternalServerError, "Failed to fetch wallet address")
			return
		}
		response.JSON(w, r, http.StatusOK, wa)
	}
}
