// Package wiretransfer is the Wire-Transfer Tracker (component I): it
// resolves a wire transfer's aggregated coins back to the merchant orders
// they paid for, and answers whether a given order's deposits have been
// swept into a bank transfer yet.
package wiretransfer

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/exchange"
	"merchantbackend/store"
)

// ErrWireHashMismatch is returned when the exchange's reported H_wire for a
// transfer does not match any bank account configured for the instance
// (spec §4.I: "a transfer whose H_wire cannot be matched to a known payto
// URI is reported but not silently trusted").
var ErrWireHashMismatch = errors.New("wiretransfer: h_wire does not match any known bank account")

// Tracker implements track_transfer/track_transaction.
type Tracker struct {
	db       *gorm.DB
	exchange *exchange.Client
}

// NewTracker builds a Tracker.
func NewTracker(db *gorm.DB, ex *exchange.Client) *Tracker {
	return &Tracker{db: db, exchange: ex}
}

// TrackTransfer resolves a wtid to its cached record if already known, or
// fetches and caches it from the exchange otherwise, verifying the
// reported wire hash against the instance's configured bank accounts
// before any coin is attributed to an order (spec §4.I "track_transfer").
func (t *Tracker) TrackTransfer(ctx context.Context, instanceID, exchangeURL, wtid string) (*store.WireTransferRecord, error) {
	cached, err := store.GetWireTransfer(t.db, exchangeURL, wtid)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	report, err := t.exchange.TrackTransfer(ctx, exchangeURL, wtid)
	if err != nil {
		return nil, err
	}

	if _, err := store.FindBankAccountByWireHash(t.db, instanceID, report.WireHash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrWireHashMismatch
		}
		return nil, err
	}

	rec := &store.WireTransferRecord{
		WTID:        wtid,
		ExchangeURL: exchangeURL,
		InstanceID:  instanceID,
		Total:       report.Total,
		WireHash:    report.WireHash,
		ExecutionAt: report.ExecutionAt,
	}
	for _, c := range report.Coins {
		orderID, err := t.resolveOrder(instanceID, c.ProposalHash)
		if err != nil {
			// A coin the tracker cannot attribute to one of its own orders
			// is still recorded for operator review rather than dropped.
			orderID = ""
		}
		rec.Coins = append(rec.Coins, store.WireTransferCoin{
			WTID:         wtid,
			ExchangeURL:  exchangeURL,
			InstanceID:   instanceID,
			CoinPub:      c.CoinPub,
			OrderID:      orderID,
			DepositValue: c.DepositValue,
			DepositFee:   c.DepositFee,
		})
	}

	if err := store.SaveWireTransfer(t.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// resolveOrder maps a deposit's proposal hash back to the owning order.
func (t *Tracker) resolveOrder(instanceID, proposalHash string) (string, error) {
	var o store.Order
	err := t.db.Select("order_id").
		Where("instance_id = ? AND contract_hash = ?", instanceID, proposalHash).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", store.ErrNotFound
	}
	return o.OrderID, err
}

// WireFeeBudget resolves how much of an instance's configured max wire fee
// the merchant will absorb for a single upcoming transfer. The
// wire-fee-amortization factor is the number of transfers over which the
// merchant is willing to spread that maximum before passing further fees to
// the customer, so a single transfer's absorbed share is the configured max
// divided by the amortization factor (spec §9 design note on wire-fee
// amortization semantics).
func (t *Tracker) WireFeeBudget(instanceID string) (crypto.Amount, error) {
	inst, err := store.GetInstance(t.db, instanceID)
	if err != nil {
		return crypto.Amount{}, err
	}
	if inst.MaxWireFee == "" {
		return crypto.Amount{}, nil
	}
	maxFee, err := crypto.ParseAmount(inst.MaxWireFee)
	if err != nil {
		return crypto.Amount{}, err
	}
	amortization := inst.WireFeeAmortization
	if amortization <= 0 {
		amortization = 1
	}
	per := (maxFee.Value*crypto.FractionDenominator + uint64(maxFee.Fraction)) / uint64(amortization)
	return crypto.Amount{
		Currency: maxFee.Currency,
		Value:    per / crypto.FractionDenominator,
		Fraction: uint32(per % crypto.FractionDenominator),
	}, nil
}

// TransactionStatus reports whether an order's deposits have been swept
// into a known wire transfer (spec §4.I "track_transaction").
type TransactionStatus struct {
	Transferred bool     `json:"transferred"`
	WTIDs       []string `json:"wtids,omitempty"`
}

// TrackTransaction implements track_transaction: NOT_YET_TRANSFERRED until
// at least one wtid is known to include the order's deposits.
func (t *Tracker) TrackTransaction(instanceID, orderID string) (TransactionStatus, error) {
	coins, err := store.WireTransfersForOrder(t.db, instanceID, orderID)
	if err != nil {
		return TransactionStatus{}, err
	}
	if len(coins) == 0 {
		return TransactionStatus{Transferred: false}, nil
	}
	seen := make(map[string]bool)
	wtids := make([]string, 0, len(coins))
	for _, c := range coins {
		if seen[c.WTID] {
			continue
		}
		seen[c.WTID] = true
		wtids = append(wtids, c.WTID)
	}
	return TransactionStatus{Transferred: true, WTIDs: wtids}, nil
}
