package store

import (
	"errors"

	"gorm.io/gorm"
)

// GetWireTransfer loads a cached wire-transfer record by wtid/exchange.
func GetWireTransfer(db *gorm.DB, exchangeURL, wtid string) (*WireTransferRecord, error) {
	var rec WireTransferRecord
	err := db.Preload("Coins").First(&rec, "exchange_url = ? AND wtid = ?", exchangeURL, wtid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// SaveWireTransfer upserts a wire-transfer record and its coin line items,
// used to cache a /track/transfer response from the exchange so repeated
// queries for the same wtid don't require another exchange round-trip.
func SaveWireTransfer(db *gorm.DB, rec *WireTransferRecord) error {
	return WithRetry(db, func(tx *gorm.DB) error {
		if err := tx.Save(rec).Error; err != nil {
			return err
		}
		for i := range rec.Coins {
			rec.Coins[i].WTID = rec.WTID
			rec.Coins[i].ExchangeURL = rec.ExchangeURL
			if err := tx.Where("wtid = ? AND exchange_url = ? AND coin_pub = ?",
				rec.WTID, rec.ExchangeURL, rec.Coins[i].CoinPub).
				FirstOrCreate(&rec.Coins[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// WireTransfersForOrder returns every wire transfer known to include a
// deposit from the given order, used by track_transaction (spec §4.I) to
// answer "has this order's money moved, and via which wtids".
func WireTransfersForOrder(db *gorm.DB, instanceID, orderID string) ([]WireTransferCoin, error) {
	var out []WireTransferCoin
	err := db.Where("instance_id = ? AND order_id = ?", instanceID, orderID).Find(&out).Error
	return out, err
}
