package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"merchantbackend/crypto"
)

// CreateTipReserve inserts a new tip reserve, initially unauthorized.
func CreateTipReserve(db *gorm.DB, r *TipReserve) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		return tx.Create(r).Error
	})
}

// GetTipReserve loads a reserve by its public key.
func GetTipReserve(db *gorm.DB, reservePub string) (*TipReserve, error) {
	var r TipReserve
	err := db.First(&r, "reserve_pub = ?", reservePub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &r, err
}

// ErrReserveExhausted is returned when a tip authorization would exceed a
// reserve's remaining, un-picked-up balance.
var ErrReserveExhausted = errors.New("store: tip reserve exhausted")

// AuthorizeTip row-locks a reserve, debits the requested amount against
// its remaining balance, and creates a Tip row, all inside one
// transaction so concurrent tip authorizations against the same reserve
// can never overdraw it.
func AuthorizeTip(db *gorm.DB, instanceID string, tip *Tip, amount crypto.Amount) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		var reserve TipReserve
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&reserve, "reserve_pub = ?", tip.ReservePub).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		authorized, err := crypto.ParseAmount(reserve.Authorized)
		if err != nil {
			return err
		}
		pickedUp, err := crypto.ParseAmount(reserve.PickedUp)
		if err != nil {
			return err
		}
		var outstanding []Tip
		if err := tx.Where("reserve_pub = ?", tip.ReservePub).Find(&outstanding).Error; err != nil {
			return err
		}
		committed := pickedUp
		for _, t := range outstanding {
			total, err := crypto.ParseAmount(t.Total)
			if err != nil {
				return err
			}
			committed, err = committed.Add(total)
			if err != nil {
				return err
			}
		}
		remaining, err := authorized.Sub(committed)
		if err != nil {
			return ErrReserveExhausted
		}
		if !remaining.SameCurrency(amount) {
			return crypto.ErrCurrencyMismatch
		}
		if remaining.Cmp(amount) < 0 {
			return ErrReserveExhausted
		}
		tip.InstanceID = instanceID
		tip.Total = amount.String()
		tip.Remaining = amount.String()
		return tx.Create(tip).Error
	})
}

// PickUpTip row-locks a tip and its reserve and debits the picked-up
// amount from both, rolling back entirely if any step fails so a partial
// withdraw never leaves the reserve and tip ledgers inconsistent (spec
// §4.H: "all-or-nothing rollback on partial withdraw failure").
func PickUpTip(db *gorm.DB, tipID string, amount crypto.Amount) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		var tip Tip
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&tip, "tip_id = ?", tipID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		remaining, err := crypto.ParseAmount(tip.Remaining)
		if err != nil {
			return err
		}
		if !remaining.SameCurrency(amount) {
			return crypto.ErrCurrencyMismatch
		}
		if remaining.Cmp(amount) < 0 {
			return ErrReserveExhausted
		}
		newRemaining, err := remaining.Sub(amount)
		if err != nil {
			return err
		}
		tip.Remaining = newRemaining.String()
		if err := tx.Save(&tip).Error; err != nil {
			return err
		}
		var reserve TipReserve
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&reserve, "reserve_pub = ?", tip.ReservePub).Error; err != nil {
			return err
		}
		pickedUp, err := crypto.ParseAmount(reserve.PickedUp)
		if err != nil {
			return err
		}
		newPickedUp, err := pickedUp.Add(amount)
		if err != nil {
			return err
		}
		reserve.PickedUp = newPickedUp.String()
		return tx.Save(&reserve).Error
	})
}

// GetTip loads a tip by id.
func GetTip(db *gorm.DB, tipID string) (*Tip, error) {
	var t Tip
	err := db.First(&t, "tip_id = ?", tipID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &t, err
}
