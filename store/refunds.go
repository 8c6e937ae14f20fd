package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"merchantbackend/crypto"
)

// ErrRefundNotIncreased marks a refund request whose amount does not
// exceed any refund already granted for the order (spec §9: refund(o, a)
// then refund(o, a) is a no-op; with a' > a only the delta is granted).
// Callers treat it as success, not an error response, but it is reported
// separately from "new refund issued" so handlers can skip re-signing.
var ErrRefundNotIncreased = errors.New("store: refund amount not increased")

// TotalRefunded sums every refund record against an order.
func TotalRefunded(db *gorm.DB, instanceID, orderID string) (crypto.Amount, error) {
	var records []RefundRecord
	if err := db.Where("instance_id = ? AND order_id = ?", instanceID, orderID).Find(&records).Error; err != nil {
		return crypto.Amount{}, err
	}
	if len(records) == 0 {
		return crypto.Amount{}, nil
	}
	amounts := make([]crypto.Amount, 0, len(records))
	currency := ""
	for _, r := range records {
		a, err := crypto.ParseAmount(r.Amount)
		if err != nil {
			return crypto.Amount{}, err
		}
		if currency == "" {
			currency = a.Currency
		}
		amounts = append(amounts, a)
	}
	return crypto.Sum(currency, amounts)
}

// IncreaseRefund row-locks the order, computes the already-granted refund
// total, and — only if requested exceeds that total — persists new
// RefundRecord rows covering the delta, allocated across the order's
// deposits by the allocate callback (pro rata by each coin's paid share,
// per spec §4.H), per spec §9's refund-delta semantics. It returns
// ErrRefundNotIncreased when requested does not exceed the current total.
func IncreaseRefund(db *gorm.DB, instanceID, orderID string, requested crypto.Amount, reason string, nextRTransactionID func() int64, allocate func(remaining crypto.Amount, deposits []Deposit) ([]RefundRecord, error)) (crypto.Amount, error) {
	var newTotal crypto.Amount
	err := WithRetry(db, func(tx *gorm.DB) error {
		var o Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&o, "instance_id = ? AND order_id = ?", instanceID, orderID).Error; err != nil {
			return err
		}
		if o.State != OrderPaid && o.State != OrderRefunded {
			return ErrOrderStateConflict
		}
		var existing []RefundRecord
		if err := tx.Where("instance_id = ? AND order_id = ?", instanceID, orderID).Find(&existing).Error; err != nil {
			return err
		}
		current := crypto.Amount{Currency: requested.Currency}
		for _, r := range existing {
			a, err := crypto.ParseAmount(r.Amount)
			if err != nil {
				return err
			}
			current, err = current.Add(a)
			if err != nil {
				return err
			}
		}
		if !current.SameCurrency(requested) {
			return crypto.ErrCurrencyMismatch
		}
		if current.Cmp(requested) >= 0 {
			newTotal = current
			return ErrRefundNotIncreased
		}
		delta, err := requested.Sub(current)
		if err != nil {
			return err
		}
		var deposits []Deposit
		if err := tx.Where("instance_id = ? AND order_id = ?", instanceID, orderID).Find(&deposits).Error; err != nil {
			return err
		}
		grants, err := allocate(delta, deposits)
		if err != nil {
			return err
		}
		for i := range grants {
			grants[i].InstanceID = instanceID
			grants[i].OrderID = orderID
			grants[i].Reason = reason
			grants[i].RTransactionID = nextRTransactionID()
			if err := tx.Create(&grants[i]).Error; err != nil {
				return err
			}
		}
		if o.State == OrderPaid {
			o.State = OrderRefunded
			if err := tx.Save(&o).Error; err != nil {
				return err
			}
		}
		newTotal = requested
		return nil
	})
	if errors.Is(err, ErrRefundNotIncreased) {
		return newTotal, ErrRefundNotIncreased
	}
	if err != nil {
		return crypto.Amount{}, err
	}
	return newTotal, nil
}

// ListRefunds returns every refund record granted against an order.
func ListRefunds(db *gorm.DB, instanceID, orderID string) ([]RefundRecord, error) {
	var out []RefundRecord
	err := db.Where("instance_id = ? AND order_id = ?", instanceID, orderID).
		Order("r_transaction_id ASC").Find(&out).Error
	return out, err
}
