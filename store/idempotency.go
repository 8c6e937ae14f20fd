package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FindIdempotent looks up a cached response for a prior request with the
// same fingerprint, grounded on services/otc-gateway/middleware/idempotency.go.
func FindIdempotent(db *gorm.DB, instanceID, fingerprint string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := db.First(&rec, "instance_id = ? AND fingerprint = ?", instanceID, fingerprint).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// SaveIdempotent caches a response body under a request fingerprint so a
// retried request with an identical Idempotency-Key and body replays the
// original response instead of re-executing side effects.
func SaveIdempotent(db *gorm.DB, rec *IdempotencyRecord) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
	})
}
