package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateOrder inserts a new proposal in state PROPOSED.
func CreateOrder(db *gorm.DB, o *Order) error {
	if o.State == "" {
		o.State = OrderProposed
	}
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Create(o).Error
	})
}

// GetOrder loads an order and its deposits/refunds by primary key.
func GetOrder(db *gorm.DB, instanceID, orderID string) (*Order, error) {
	var o Order
	err := db.Preload("Deposits").Preload("Refunds").
		First(&o, "instance_id = ? AND order_id = ?", instanceID, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &o, err
}

// ListOrders returns an instance's orders in a paginated, bidirectional
// range scan ordered by creation time, per spec §4.B.
func ListOrders(db *gorm.DB, instanceID string, page Page) ([]Order, error) {
	var out []Order
	q := db.Model(&Order{}).Where("instance_id = ?", instanceID)
	q = applyCursor(q, "created_at", page)
	err := q.Find(&out).Error
	return out, err
}

// ErrOrderStateConflict is returned when a requested transition does not
// apply from the order's current state.
var ErrOrderStateConflict = errors.New("store: order state conflict")

// ClaimOrder row-locks the order, verifies it is still PROPOSED and
// unclaimed or already claimed with the same nonce (idempotent reclaim by
// the same wallet), and transitions it to CLAIMED while attaching the
// generated contract terms. Grounded on the row-lock-then-transition
// pattern in services/otc-gateway/server/sign_submit.go.
func ClaimOrder(db *gorm.DB, instanceID, orderID, nonce string, contractTerms []byte, contractHash string, update func(o *Order)) (*Order, error) {
	var result Order
	err := WithRetry(db, func(tx *gorm.DB) error {
		var o Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&o, "instance_id = ? AND order_id = ?", instanceID, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		switch o.State {
		case OrderProposed:
			o.State = OrderClaimed
			o.ClaimNonce = nonce
			o.ContractTerms = contractTerms
			o.ContractHash = contractHash
			if update != nil {
				update(&o)
			}
			if err := tx.Save(&o).Error; err != nil {
				return err
			}
		case OrderClaimed:
			if o.ClaimNonce != nonce {
				return ErrOrderStateConflict
			}
			// Idempotent reclaim by the same wallet: return existing terms.
		default:
			return ErrOrderStateConflict
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkPaid row-locks the order, verifies it is CLAIMED, records the
// deposits, and transitions to PAID in one transaction so a crash between
// persisting deposits and flipping state can never leave the order stuck
// half-paid.
func MarkPaid(db *gorm.DB, instanceID, orderID string, deposits []Deposit, paidResponse []byte) (*Order, error) {
	var result Order
	err := WithRetry(db, func(tx *gorm.DB) error {
		var o Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&o, "instance_id = ? AND order_id = ?", instanceID, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if o.State == OrderPaid {
			result = o
			return nil
		}
		if o.State != OrderClaimed {
			return ErrOrderStateConflict
		}
		for i := range deposits {
			deposits[i].InstanceID = instanceID
			deposits[i].OrderID = orderID
			if err := tx.Create(&deposits[i]).Error; err != nil {
				return err
			}
		}
		o.State = OrderPaid
		o.PaidResponse = paidResponse
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AbortOrder transitions an unpaid, claimed order to ABORTED. Orders that
// are already PAID cannot be aborted through this path (spec: abort only
// applies before any deposit has settled).
func AbortOrder(db *gorm.DB, instanceID, orderID string) (*Order, error) {
	var result Order
	err := WithRetry(db, func(tx *gorm.DB) error {
		var o Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&o, "instance_id = ? AND order_id = ?", instanceID, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if o.State == OrderAborted {
			result = o
			return nil
		}
		if o.State != OrderClaimed {
			return ErrOrderStateConflict
		}
		o.State = OrderAborted
		if err := tx.Save(&o).Error; err != nil {
			return err
		}
		result = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// BumpLogicalClock increments an order's logical clock. Nothing in the
// repository calls it: the Long-Poll Coordinator detects state changes
// through Notifier wakeups and re-reading the order, not through this
// clock.
func BumpLogicalClock(tx *gorm.DB, instanceID, orderID string) error {
	return tx.Model(&Order{}).
		Where("instance_id = ? AND order_id = ?", instanceID, orderID).
		Update("logical_clock", gorm.Expr("logical_clock + 1")).Error
}
