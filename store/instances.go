package store

import (
	"errors"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup by primary key finds no row.
var ErrNotFound = errors.New("store: not found")

// CreateInstance inserts a new merchant instance along with its bank
// accounts in a single transaction.
func CreateInstance(db *gorm.DB, inst *Instance) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Create(inst).Error
	})
}

// GetInstance loads a non-deleted instance and all of its bank accounts
// (active and inactive) by id.
func GetInstance(db *gorm.DB, id string) (*Instance, error) {
	var inst Instance
	err := db.Preload("BankAccounts").First(&inst, "id = ? AND deleted = ?", id, false).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns all non-deleted instances, ordered by id.
func ListInstances(db *gorm.DB) ([]Instance, error) {
	var out []Instance
	err := db.Where("deleted = ?", false).Order("id ASC").Find(&out).Error
	return out, err
}

// UpdateInstance persists changed fields of an existing instance.
func UpdateInstance(db *gorm.DB, inst *Instance) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Model(&Instance{}).Where("id = ?", inst.ID).Updates(inst).Error
	})
}

// SoftDeleteInstance marks an instance deleted without removing its
// transaction history, mirroring Taler merchant backends that keep
// closed-instance order history available for reconciliation.
func SoftDeleteInstance(db *gorm.DB, id string) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Model(&Instance{}).Where("id = ?", id).Update("deleted", true).Error
	})
}

// PurgeInstance hard-removes an instance and its bank accounts, unlike
// SoftDeleteInstance which preserves audit rows (spec §3: "hard-removed by
// PURGE").
func PurgeInstance(db *gorm.DB, id string) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		if err := tx.Where("instance_id = ?", id).Delete(&BankAccount{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Instance{}).Error
	})
}

// AddBankAccount appends a payto destination to an instance.
func AddBankAccount(db *gorm.DB, acct *BankAccount) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Create(acct).Error
	})
}

// DeactivateBankAccount marks a bank account inactive without deleting it,
// so historical wire-transfer records still resolve to a known H_wire.
func DeactivateBankAccount(db *gorm.DB, instanceID, paytoURI string) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Model(&BankAccount{}).
			Where("instance_id = ? AND payto_uri = ?", instanceID, paytoURI).
			Update("active", false).Error
	})
}

// FindBankAccountByWireHash resolves an instance's bank account from an
// H_wire value, used by the Wire-Transfer Tracker to identify which
// destination an exchange's wire report refers to.
func FindBankAccountByWireHash(db *gorm.DB, instanceID, wireHash string) (*BankAccount, error) {
	var acct BankAccount
	err := db.Where("instance_id = ? AND wire_hash = ?", instanceID, wireHash).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &acct, err
}
