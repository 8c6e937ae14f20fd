package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateProduct inserts a product into an instance's inventory.
func CreateProduct(db *gorm.DB, p *Product) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
}

// GetProduct loads a single product by instance and product id.
func GetProduct(db *gorm.DB, instanceID, productID string) (*Product, error) {
	var p Product
	err := db.First(&p, "instance_id = ? AND product_id = ?", instanceID, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &p, err
}

// ListProducts returns an instance's active products.
func ListProducts(db *gorm.DB, instanceID string) ([]Product, error) {
	var out []Product
	err := db.Where("instance_id = ? AND active = ?", instanceID, true).
		Order("product_id ASC").Find(&out).Error
	return out, err
}

// UpdateProduct persists changed product fields.
func UpdateProduct(db *gorm.DB, p *Product) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Model(&Product{}).
			Where("instance_id = ? AND product_id = ?", p.InstanceID, p.ProductID).
			Updates(p).Error
	})
}

// ErrInsufficientStock is returned when a lock would oversell a product.
var ErrInsufficientStock = errors.New("store: insufficient stock")

// LockStock reserves quantity units of a product for an in-flight order,
// row-locking the product the way the teacher's invoice/voucher flow
// row-locks with clause.Locking{Strength: "UPDATE"} before mutating balance
// fields, so two concurrent claims can never oversell the same product.
func LockStock(db *gorm.DB, instanceID, productID, lockUUID string, quantity int64, expiry time.Time) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		var p Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&p, "instance_id = ? AND product_id = ?", instanceID, productID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if p.Stocked >= 0 {
			var reserved int64
			if err := tx.Model(&StockLock{}).
				Where("instance_id = ? AND product_id = ? AND released = ? AND expiry > ?",
					instanceID, productID, false, timeNow()).
				Select("COALESCE(SUM(quantity), 0)").Scan(&reserved).Error; err != nil {
				return err
			}
			available := p.Stocked - p.Sold - p.Lost - reserved
			if available < quantity {
				return fmt.Errorf("%w: product %s has %d available, need %d", ErrInsufficientStock, productID, available, quantity)
			}
		}
		lock := &StockLock{
			UUID:       lockUUID,
			InstanceID: instanceID,
			ProductID:  productID,
			Quantity:   quantity,
			Expiry:     expiry,
		}
		return tx.Create(lock).Error
	})
}

// ReleaseStockLock marks a reservation released, either because the order
// it backed was claimed and paid (so Sold should absorb the quantity) or
// because the proposal expired unpaid.
func ReleaseStockLock(db *gorm.DB, lockUUID string, sold bool) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		var lock StockLock
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&lock, "uuid = ?", lockUUID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if lock.Released {
			return nil
		}
		if err := tx.Model(&lock).Update("released", true).Error; err != nil {
			return err
		}
		if sold {
			return tx.Model(&Product{}).
				Where("instance_id = ? AND product_id = ?", lock.InstanceID, lock.ProductID).
				Update("sold", gorm.Expr("sold + ?", lock.Quantity)).Error
		}
		return nil
	})
}

// ExpireStockLocks releases every stock lock whose expiry has passed and
// that was never converted to a sale, freeing inventory reserved by
// abandoned proposals.
func ExpireStockLocks(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Model(&StockLock{}).
		Where("released = ? AND expiry <= ?", false, now).
		Update("released", true)
	return res.RowsAffected, res.Error
}

// timeNow exists so LockStock's expiry comparison stays a single call site
// if it ever needs to become injectable for tests.
func timeNow() time.Time { return time.Now() }
