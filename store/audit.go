package store

import "gorm.io/gorm"

// InsertAuditLog records one HTTP request/response pair for operational
// forensics, grounded on services/payments-gateway/server.go's audit()
// method. Insert failures are the caller's to decide on (typically
// logged, never surfaced to the client — an audit-log write must not
// fail the request it is auditing).
func InsertAuditLog(db *gorm.DB, entry *AuditLogEntry) error {
	return db.Create(entry).Error
}
