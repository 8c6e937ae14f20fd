package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"merchantbackend/longpoll"
	"merchantbackend/payment"
	"merchantbackend/store"
)

// handleConfig answers GET /config with the backend's currency; no version
// or other discovery fields are returned (spec §6: public "GET /config").
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"currency": s.cfg.Currency})
}

// claimRequest is the body of POST /orders/{id}/claim. merchant_pub is
// deliberately not accepted here: it is the instance's own signing public
// key, derived server-side from the instance's private key, not supplied
// by the unauthenticated wallet caller.
type claimRequest struct {
	Nonce string `json:"nonce"`
}

// handleClaim claims a proposal for order_id under the default instance
// scope resolved from the X-Merchant-Instance header (public routes are
// unauthenticated; the instance is identified by a non-secret routing
// header, not a bearer token).
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceHeader(r)
	orderID := chi.URLParam(r, "order_id")

	var req claimRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}

	acct, err := s.instances.ActiveBankAccount(instanceID)
	if err != nil {
		writeError(w, err)
		return
	}

	order, terms, err := s.orders.Claim(instanceID, orderID, req.Nonce, acct.WireHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ContractTerms interface{} `json:"contract_terms"`
		MerchantSig   string      `json:"merchant_sig"`
	}{ContractTerms: terms, MerchantSig: order.MerchantSig})
}

// payRequest is the body of POST /orders/{id}/pay.
type payRequest struct {
	Coins []payment.CoinDeposit `json:"coins"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceHeader(r)
	orderID := chi.URLParam(r, "order_id")

	var req payRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}

	result, err := s.pipeline.Pay(r.Context(), instanceID, orderID, req.Coins)
	if err != nil {
		if result.ShortBy != "" {
			writeJSON(w, http.StatusPaymentRequired, apiError{Code: codePaymentInsufficient, Hint: "insufficient funds", Extra: map[string]string{"short_by": result.ShortBy}})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceHeader(r)
	orderID := chi.URLParam(r, "order_id")

	result, err := s.pipeline.Abort(instanceID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handlePollOrder answers GET /orders/{id}: with no timeout_ms query
// parameter (or timeout_ms=0) it is a plain, immediate status lookup; with a
// positive timeout_ms it long-polls: without min_refund it waits for a
// PAID/ABORTED transition; with min_refund it waits only for the granted
// refund total to reach that amount (spec §6 "poll payment; query: session_id, timeout_ms, min_refund"; spec
// §8 boundary test: "timeout_ms of 0 on poll returns immediately").
func (s *Server) handlePollOrder(w http.ResponseWriter, r *http.Request) {
	instanceID := instanceHeader(r)
	orderID := chi.URLParam(r, "order_id")
	nonce := r.URL.Query().Get("session_id")

	order, terms, err := s.orders.Lookup(instanceID, orderID, nonce)
	if err != nil {
		writeError(w, err)
		return
	}

	minRefund := r.URL.Query().Get("min_refund")
	deadline, shouldWait := pollDeadline(r)

	if shouldWait {
		if minRefund != "" {
			threshold, err := decodeAmount(minRefund)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid min_refund"})
				return
			}
			reached := func(total string) bool {
				t, err := decodeAmount(total)
				return err == nil && t.Cmp(threshold) >= 0
			}
			if _, err := longpoll.PollRefund(r.Context(), s.db, s.notifier, instanceID, orderID, reached, deadline); err != nil {
				writeError(w, err)
				return
			}
		} else if order.State != store.OrderPaid && order.State != store.OrderAborted {
			if _, err := longpoll.PollPayment(r.Context(), s.db, s.notifier, instanceID, orderID, deadline); err != nil {
				writeError(w, err)
				return
			}
		}
		order, terms, err = s.orders.Lookup(instanceID, orderID, nonce)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	resp := map[string]interface{}{
		"order_id": order.OrderID,
		"state":    order.State,
	}
	if terms != nil {
		resp["contract_terms"] = terms
	}
	if minRefund != "" {
		total, err := store.TotalRefunded(s.db, instanceID, orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		resp["refunded"] = total.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func instanceHeader(r *http.Request) string {
	return r.Header.Get("X-Merchant-Instance")
}
