package store

import "gorm.io/gorm"

// ListDeposits returns every coin deposit recorded against an order.
func ListDeposits(db *gorm.DB, instanceID, orderID string) ([]Deposit, error) {
	var out []Deposit
	err := db.Where("instance_id = ? AND order_id = ?", instanceID, orderID).
		Order("coin_pub ASC").Find(&out).Error
	return out, err
}

// DepositsByExchange returns deposits routed through a given exchange,
// used by the Wire-Transfer Tracker to resolve a wtid's coins back to
// their originating orders.
func DepositsByExchange(db *gorm.DB, exchangeURL string, coinPubs []string) ([]Deposit, error) {
	var out []Deposit
	err := db.Where("exchange_url = ? AND coin_pub IN ?", exchangeURL, coinPubs).Find(&out).Error
	return out, err
}
