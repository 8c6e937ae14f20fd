// Package httpapi is the HTTP Surface (component K): a chi router exposing
// the public wallet-facing routes and the private, bearer-authenticated
// back-office routes of spec §6, grounded on the route-grouping style of
// services/otc-gateway/server/server.go.
package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"merchantbackend/config"
	"merchantbackend/httpapi/middleware"
	"merchantbackend/instance"
	"merchantbackend/orders"
	"merchantbackend/payment"
	"merchantbackend/refund"
	"merchantbackend/store"
	"merchantbackend/wiretransfer"
)

// maxRequestBody bounds a request body to 1 MiB (spec §7: "body over 1 MiB" -> 413).
const maxRequestBody = 1 << 20

// Server wires every component's business logic to HTTP routes.
type Server struct {
	db         *gorm.DB
	cfg        *config.Config
	instances  *instance.Service
	orders     *orders.Engine
	pipeline   *payment.Pipeline
	refunds    *refund.Engine
	transfers  *wiretransfer.Tracker
	notifier   *store.Notifier
	auth       *middleware.Authenticator

	router chi.Router
}

// New builds a fully wired Server.
func New(db *gorm.DB, cfg *config.Config, instances *instance.Service, orderEngine *orders.Engine, pipeline *payment.Pipeline, refunds *refund.Engine, transfers *wiretransfer.Tracker, notifier *store.Notifier, auth *middleware.Authenticator) *Server {
	s := &Server{
		db: db, cfg: cfg, instances: instances, orders: orderEngine,
		pipeline: pipeline, refunds: refunds, transfers: transfers,
		notifier: notifier, auth: auth,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the server's configured http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBody+1))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, apiError{Code: codeBadRequest, Hint: "unreadable request body"})
				return
			}
			if len(body) > maxRequestBody {
				writeJSON(w, http.StatusRequestEntityTooLarge, apiError{Code: codePayloadTooLarge, Hint: "request body exceeds 1 MiB"})
				return
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, req)
		})
	})

	auditByHeader := func(next http.Handler) http.Handler {
		return middleware.Audit(s.db, instanceHeader)(next)
	}

	r.Get("/config", middleware.Observe("/config", http.HandlerFunc(s.handleConfig)).ServeHTTP)

	r.Route("/orders/{order_id}", func(pub chi.Router) {
		pub.Use(auditByHeader)
		pub.Post("/claim", middleware.Observe("/orders/{id}/claim", http.HandlerFunc(s.handleClaim)).ServeHTTP)
		pub.Post("/pay", middleware.Observe("/orders/{id}/pay", http.HandlerFunc(s.handlePay)).ServeHTTP)
		pub.Post("/abort", middleware.Observe("/orders/{id}/abort", http.HandlerFunc(s.handleAbort)).ServeHTTP)
		pub.Get("/", middleware.Observe("/orders/{id}", http.HandlerFunc(s.handlePollOrder)).ServeHTTP)
	})
	r.Route("/tips/{tip_id}", func(pub chi.Router) {
		pub.Use(auditByHeader)
		pub.Get("/", middleware.Observe("/tips/{id}", http.HandlerFunc(s.handleGetTip)).ServeHTTP)
		pub.Post("/pickup", middleware.Observe("/tips/{id}/pickup", http.HandlerFunc(s.handlePickUpTip)).ServeHTTP)
	})

	// Private routes are all scoped under /instances/{instance_id}/... (spec
	// §6 lists them unscoped as a "selected" summary; a back-office token
	// always acts on behalf of one instance, so every private resource is
	// addressed relative to it, the same way Taler merchant backends nest
	// their private API under an instance prefix).
	r.Route("/instances/{instance_id}", func(inst chi.Router) {
		inst.Use(s.auth.RequireAuth)
		inst.Use(func(next http.Handler) http.Handler {
			return middleware.Audit(s.db, func(r *http.Request) string {
				return chi.URLParam(r, "instance_id")
			})(next)
		})
		inst.Use(func(next http.Handler) http.Handler {
			return middleware.Idempotency(s.db, func(r *http.Request) string {
				return chi.URLParam(r, "instance_id")
			})(next)
		})

		inst.Get("/", http.HandlerFunc(s.handleGetInstance))
		inst.Patch("/", http.HandlerFunc(s.handlePatchInstance))
		inst.Delete("/", http.HandlerFunc(s.handleDeleteInstance))
		inst.Post("/purge", http.HandlerFunc(s.handlePurgeInstance))

		inst.Get("/products", http.HandlerFunc(s.handleListProducts))
		inst.Post("/products", http.HandlerFunc(s.handleCreateProduct))
		inst.Route("/products/{product_id}", func(p chi.Router) {
			p.Get("/", http.HandlerFunc(s.handleGetProduct))
			p.Patch("/", http.HandlerFunc(s.handlePatchProduct))
			p.Delete("/", http.HandlerFunc(s.handleDeleteProduct))
			p.Post("/lock", http.HandlerFunc(s.handleLockProduct))
		})

		inst.Post("/orders", http.HandlerFunc(s.handleCreateOrder))
		inst.Get("/orders", http.HandlerFunc(s.handleListOrders))
		inst.Post("/orders/{order_id}/refund", http.HandlerFunc(s.handleRefund))
		inst.Get("/orders/{order_id}/transfers", http.HandlerFunc(s.handleOrderTransfers))

		inst.Post("/tips", http.HandlerFunc(s.handleCreateTip))
		inst.Get("/transfers", http.HandlerFunc(s.handleGetTransfer))
	})

	r.Group(func(priv chi.Router) {
		priv.Use(s.auth.RequireAuth)
		priv.Post("/instances", http.HandlerFunc(s.handleCreateInstance))
		priv.Get("/instances", http.HandlerFunc(s.handleListInstances))
	})

	return r
}

// pollDeadline resolves a request's timeout_ms query param into a wall-clock
// deadline, bounded to a sane maximum so a misbehaving client can't hold a
// worker open indefinitely. The second return value is false whenever
// timeout_ms is absent or non-positive, so the caller can return the
// current state immediately instead of handing a zero deadline to the
// long-poll coordinator, which would otherwise block indefinitely (spec
// §8: "timeout_ms of 0 on poll returns immediately").
func pollDeadline(r *http.Request) (time.Time, bool) {
	ms := queryInt(r, "timeout_ms", 0)
	if ms <= 0 {
		return time.Time{}, false
	}
	const maxPoll = 60 * time.Second
	d := time.Duration(ms) * time.Millisecond
	if d > maxPoll {
		d = maxPoll
	}
	return time.Now().Add(d), true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	var v int
	for _, c := range raw {
		if c < '0' || c > '9' {
			return def
		}
		v = v*10 + int(c-'0')
	}
	return v
}
