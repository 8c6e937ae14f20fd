package middleware

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"merchantbackend/store"
)

// Audit wraps a handler so that every request/response pair is recorded
// for operational forensics, grounded on
// services/payments-gateway/server.go's audit() method. instanceIDFor
// resolves the acting instance the same way Idempotency does; route
// query parameters are sorted into a canonical form so two equivalent
// requests produce the same logged path.
func Audit(db *gorm.DB, instanceIDFor func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := &store.AuditLogEntry{
				InstanceID: instanceIDFor(r),
				Method:     r.Method,
				Path:       canonicalRequestPath(r),
				Status:     rec.status,
				OccurredAt: time.Now().UTC(),
			}
			_ = store.InsertAuditLog(db, entry)
		})
	}
}

func canonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		parts := strings.Split(r.URL.RawQuery, "&")
		sort.Strings(parts)
		path += "?" + strings.Join(parts, "&")
	}
	return path
}
