package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"merchantbackend/refund"
	"merchantbackend/store"
)

// handleGetTip answers GET /tips/{tip_id} (spec §6 public route).
func (s *Server) handleGetTip(w http.ResponseWriter, r *http.Request) {
	tipID := chi.URLParam(r, "tip_id")
	tip, err := store.GetTip(s.db, tipID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tip_id":    tip.TipID,
		"total":     tip.Total,
		"remaining": tip.Remaining,
		"expiry":    tip.Expiry,
	})
}

type pickupRequest struct {
	Amount    string                    `json:"amount"`
	Planchets []refund.PlanchetRequest  `json:"planchets"`
}

// handlePickUpTip answers POST /tips/{tip_id}/pickup.
func (s *Server) handlePickUpTip(w http.ResponseWriter, r *http.Request) {
	tipID := chi.URLParam(r, "tip_id")

	var req pickupRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}

	tip, err := store.GetTip(s.db, tipID)
	if err != nil {
		writeError(w, err)
		return
	}
	reserve, err := store.GetTipReserve(s.db, tip.ReservePub)
	if err != nil {
		writeError(w, err)
		return
	}

	amount, err := decodeAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid amount"})
		return
	}

	results, err := s.refunds.PickUpTip(r.Context(), reserve.ExchangeURL, tip, req.Planchets, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"signatures": results})
}

type createTipRequest struct {
	TipID      string `json:"tip_id"`
	ReservePub string `json:"reserve_pub"`
	Amount     string `json:"amount"`
	ExpirySec  int64  `json:"expiry_seconds"`
}

// handleCreateTip answers POST /instances/{instance_id}/tips (spec §6
// private "POST /tips").
func (s *Server) handleCreateTip(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")

	var req createTipRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	amount, err := decodeAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid amount"})
		return
	}

	expiry := expiryFromSeconds(req.ExpirySec)
	tip, err := s.refunds.AuthorizeTip(instanceID, req.TipID, req.ReservePub, amount, expiry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tip)
}
