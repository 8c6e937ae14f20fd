package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"merchantbackend/instance"
	"merchantbackend/orders"
	"merchantbackend/store"
)

// handleCreateInstance answers POST /instances.
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req instance.CreateParams
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	inst, err := s.instances.Create(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleListInstances answers GET /instances.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.instances.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetInstance answers GET /instances/{instance_id}.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.instances.Get(chi.URLParam(r, "instance_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handlePatchInstance answers PATCH /instances/{instance_id}.
func (s *Server) handlePatchInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	var rec store.Instance
	if err := decodeJSONBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	rec.ID = instanceID
	if err := s.instances.Patch(&rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteInstance answers DELETE /instances/{instance_id}: soft-delete,
// preserving audit rows (spec §3).
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.instances.Delete(chi.URLParam(r, "instance_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePurgeInstance answers POST /instances/{instance_id}/purge:
// hard-removal, unlike DELETE (spec §3).
func (s *Server) handlePurgeInstance(w http.ResponseWriter, r *http.Request) {
	if err := s.instances.Purge(chi.URLParam(r, "instance_id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListProducts answers GET /instances/{instance_id}/products.
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.instances.ListProducts(chi.URLParam(r, "instance_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// handleCreateProduct answers POST /instances/{instance_id}/products.
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	var p store.Product
	if err := decodeJSONBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	p.InstanceID = instanceID
	if err := s.instances.CreateProduct(&p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleGetProduct answers GET /instances/{instance_id}/products/{product_id}.
func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.instances.GetProduct(chi.URLParam(r, "instance_id"), chi.URLParam(r, "product_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePatchProduct answers PATCH /instances/{instance_id}/products/{product_id}.
func (s *Server) handlePatchProduct(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	productID := chi.URLParam(r, "product_id")
	var p store.Product
	if err := decodeJSONBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	p.InstanceID = instanceID
	p.ProductID = productID
	if err := s.instances.UpdateProduct(&p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleDeleteProduct answers DELETE /instances/{instance_id}/products/{product_id}
// by deactivating the product; historical orders keep referencing it.
func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	productID := chi.URLParam(r, "product_id")
	if err := s.db.Model(&store.Product{}).
		Where("instance_id = ? AND product_id = ?", instanceID, productID).
		Update("active", false).Error; err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type lockProductRequest struct {
	Quantity int64 `json:"quantity"`
	TTLSec   int64 `json:"lock_ttl_seconds"`
}

// handleLockProduct answers POST /instances/{instance_id}/products/{product_id}/lock.
func (s *Server) handleLockProduct(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	productID := chi.URLParam(r, "product_id")
	var req lockProductRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	ttl := time.Duration(req.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	lockUUID, err := s.instances.LockProduct(instanceID, productID, req.Quantity, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lock_uuid": lockUUID})
}

// handleCreateOrder answers POST /instances/{instance_id}/orders.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	var p orders.Proposal
	if err := decodeJSONBody(r, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	order, err := s.orders.CreateProposal(instanceID, p.OrderID, p)
	if err != nil {
		if errors.Is(err, orders.ErrProposalUnchanged) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": order.OrderID})
}

// handleListOrders answers GET /instances/{instance_id}/orders.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	page := store.Page{
		Start: int64(queryInt(r, "start", 0)),
		Delta: queryInt(r, "delta", 20),
	}
	list, err := store.ListOrders(s.db, instanceID, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type refundRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// handleRefund answers POST /instances/{instance_id}/orders/{order_id}/refund.
func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	orderID := chi.URLParam(r, "order_id")
	var req refundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid JSON body"})
		return
	}
	amount, err := decodeAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "invalid amount"})
		return
	}
	total, err := s.refunds.IncreaseRefund(instanceID, orderID, amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"refunded": total.String()})
}

// handleOrderTransfers answers GET /instances/{instance_id}/orders/{order_id}/transfers.
func (s *Server) handleOrderTransfers(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	orderID := chi.URLParam(r, "order_id")
	status, err := s.transfers.TrackTransaction(instanceID, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleGetTransfer answers GET /instances/{instance_id}/transfers?wtid=…&exchange=….
func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instance_id")
	wtid := r.URL.Query().Get("wtid")
	exchangeURL := r.URL.Query().Get("exchange")
	if wtid == "" || exchangeURL == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "wtid and exchange query params are required"})
		return
	}
	rec, err := s.transfers.TrackTransfer(r.Context(), instanceID, exchangeURL, wtid)
	if err != nil {
		writeError(w, err)
		return
	}
	budget, err := s.transfers.WireFeeBudget(instanceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*store.WireTransferRecord
		WireFeeBudget string `json:"wire_fee_budget"`
	}{WireTransferRecord: rec, WireFeeBudget: budget.String()})
}
