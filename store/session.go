package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// maxSerializationRetries bounds how many times WithRetry re-attempts a
// transaction that failed on a serialization conflict (spec §4.B: "retrying
// soft (serialization) failures up to a small bounded number (recommend 3)").
const maxSerializationRetries = 3

// WithRetry runs fn inside a transaction the way the teacher's
// services/otc-gateway/server handlers do (tx.Clauses(clause.Locking{...})
// under db.Transaction), retrying automatically when the database reports a
// transient serialization conflict and passing through any other error
// (including domain errors returned by fn) immediately.
func WithRetry(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxSerializationRetries; attempt++ {
		lastErr = db.Transaction(fn)
		if lastErr == nil {
			return nil
		}
		if !isSerializationFailure(lastErr) {
			return lastErr
		}
		time.Sleep(backoff(attempt))
	}
	return lastErr
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<attempt) * 5 * time.Millisecond
	if d > 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return d
}

// isSerializationFailure recognizes Postgres/SQLite transient conflict
// errors by message, since gorm does not expose a typed error for them
// uniformly across dialects.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "serialization failure"):
		return true
	case strings.Contains(msg, "deadlock"):
		return true
	case strings.Contains(msg, "database is locked"):
		return true
	case strings.Contains(msg, "could not serialize access"):
		return true
	default:
		return false
	}
}
