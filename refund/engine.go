// Package refund is the Refund & Tip Engine (component H): refund
// accumulation with idempotent increase semantics, tip reserve debiting,
// and all-or-nothing tip pickup against the exchange.
package refund

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/exchange"
	"merchantbackend/keystate"
	"merchantbackend/store"
)

// KeyProvider resolves an instance's signing private key for refund and
// tip-pickup signatures.
type KeyProvider interface {
	PrivateKeyFor(instanceID string) (*crypto.PrivateKey, error)
}

// Engine implements refund and tip operations.
type Engine struct {
	db       *gorm.DB
	exchange *exchange.Client
	keys     KeyProvider
	ks       *keystate.Manager
	notifier *store.Notifier
	rtxSeq   atomic.Int64
}

// NewEngine builds an Engine. ks is consulted against the Key-State
// Manager's historic denomination table so a refund against a coin whose
// denomination key has since rotated out of the live snapshot can still be
// resolved (spec §4.C: "kept in a 'historic' table so that audits and
// refunds remain possible").
func NewEngine(db *gorm.DB, ex *exchange.Client, keys KeyProvider, ks *keystate.Manager, notifier *store.Notifier) *Engine {
	return &Engine{db: db, exchange: ex, keys: keys, ks: ks, notifier: notifier}
}

// ErrRefundExceedsPaid is returned when a refund request exceeds the
// order's paid total (spec §4.H: "amount > paid fails CONFLICT").
var ErrRefundExceedsPaid = errors.New("refund: amount exceeds paid total")

// ErrUnknownDenomination is returned when a deposit's denomination cannot
// be resolved even in the Key-State Manager's historic table, meaning the
// exchange never reported it (spec §4.C's retention guarantee exists
// precisely so this should not happen for a genuinely paid coin).
var ErrUnknownDenomination = errors.New("refund: coin's denomination is unknown even historically")

// amountBaseUnits converts an Amount to its integer count of 1/1e8 base
// units as a big.Int, so proportional shares can be computed by
// multiply-then-divide without the uint64 overflow a naive
// Value*FractionDenominator would risk for large refunds.
func amountBaseUnits(a crypto.Amount) *big.Int {
	base := new(big.Int).SetUint64(a.Value)
	base.Mul(base, big.NewInt(crypto.FractionDenominator))
	base.Add(base, big.NewInt(int64(a.Fraction)))
	return base
}

// amountFromBaseUnits is the inverse of amountBaseUnits.
func amountFromBaseUnits(currency string, base *big.Int) (crypto.Amount, error) {
	if base.Sign() < 0 {
		return crypto.Amount{}, fmt.Errorf("refund: negative amount share")
	}
	denom := big.NewInt(crypto.FractionDenominator)
	value := new(big.Int).Div(base, denom)
	fraction := new(big.Int).Mod(base, denom)
	if !value.IsUint64() {
		return crypto.Amount{}, crypto.ErrAmountOverflow
	}
	return crypto.Amount{Currency: currency, Value: value.Uint64(), Fraction: uint32(fraction.Uint64())}, nil
}

// IncreaseRefund grants (or idempotently no-ops) a refund against an
// order, allocating the delta across the order's deposits pro rata by
// each coin's paid share (spec §4.H "Refund increase").
func (e *Engine) IncreaseRefund(instanceID, orderID string, amount crypto.Amount, reason string) (crypto.Amount, error) {
	order, err := store.GetOrder(e.db, instanceID, orderID)
	if err != nil {
		return crypto.Amount{}, err
	}
	paid, err := crypto.ParseAmount(order.TotalAmount)
	if err != nil {
		return crypto.Amount{}, err
	}
	if !amount.SameCurrency(paid) {
		return crypto.Amount{}, crypto.ErrCurrencyMismatch
	}
	if amount.Cmp(paid) > 0 {
		return crypto.Amount{}, ErrRefundExceedsPaid
	}

	privKey, err := e.keys.PrivateKeyFor(instanceID)
	if err != nil {
		return crypto.Amount{}, err
	}

	allocate := func(remaining crypto.Amount, deposits []store.Deposit) ([]store.RefundRecord, error) {
		if len(deposits) == 0 {
			return nil, errors.New("refund: order has no deposits to refund against")
		}

		paidPerCoin := make([]crypto.Amount, len(deposits))
		totalPaid := crypto.Zero(remaining.Currency)
		for i, d := range deposits {
			paid, err := crypto.ParseAmount(d.AmountWithoutFee)
			if err != nil {
				return nil, err
			}
			paidPerCoin[i] = paid
			totalPaid, err = totalPaid.Add(paid)
			if err != nil {
				return nil, err
			}
			// A deposit created with its denomination populated (always
			// true on the real payment path; test fixtures may omit it)
			// must still be resolvable, at least historically, before the
			// merchant signs a refund over it.
			if e.ks != nil && d.DenomPub != "" && d.ExchangeURL != "" {
				if _, ok := e.ks.FindHistoricDenomination(d.ExchangeURL, d.DenomPub); !ok {
					return nil, fmt.Errorf("%w: coin %s denomination %s", ErrUnknownDenomination, d.CoinPub, d.DenomPub)
				}
			}
		}
		if totalPaid.IsZero() {
			return nil, errors.New("refund: order's deposits paid a zero total")
		}

		grants := make([]store.RefundRecord, 0, len(deposits))
		allocated := crypto.Zero(remaining.Currency)
		remainingBase := amountBaseUnits(remaining)
		totalPaidBase := amountBaseUnits(totalPaid)
		for i, d := range deposits {
			var portion crypto.Amount
			if i == len(deposits)-1 {
				// The last coin absorbs the rounding remainder so the sum
				// is exact, rather than drift from successive roundings.
				p, err := remaining.Sub(allocated)
				if err != nil {
					return nil, err
				}
				portion = p
			} else {
				shareBase := new(big.Int).Mul(remainingBase, amountBaseUnits(paidPerCoin[i]))
				shareBase.Div(shareBase, totalPaidBase)
				p, err := amountFromBaseUnits(remaining.Currency, shareBase)
				if err != nil {
					return nil, err
				}
				portion = p
				allocated, err = allocated.Add(portion)
				if err != nil {
					return nil, err
				}
			}
			payload := struct {
				OrderID string
				CoinPub string
				Amount  string
			}{OrderID: orderID, CoinPub: d.CoinPub, Amount: portion.String()}
			hash, err := crypto.HashStruct(payload)
			if err != nil {
				return nil, err
			}
			sig := privKey.Sign(crypto.PurposeRefundOK, hash)
			grants = append(grants, store.RefundRecord{
				CoinPub:     d.CoinPub,
				Amount:      portion.String(),
				MerchantSig: crypto.EncodeBinary(sig),
			})
		}
		return grants, nil
	}

	newTotal, err := store.IncreaseRefund(e.db, instanceID, orderID, amount, reason, func() int64 { return e.rtxSeq.Add(1) }, allocate)
	if errors.Is(err, store.ErrRefundNotIncreased) {
		return newTotal, nil
	}
	if err != nil {
		return crypto.Amount{}, err
	}
	e.notifier.Publish(store.RefundKey(instanceID, orderID))
	return newTotal, nil
}

// AuthorizeTip debits amount from a reserve and creates a pickup-able tip
// (spec §4.H "Tip authorization"). An empty tipID is replaced by a
// generated UUID.
func (e *Engine) AuthorizeTip(instanceID, tipID, reservePub string, amount crypto.Amount, expiry time.Time) (*store.Tip, error) {
	if tipID == "" {
		tipID = uuid.NewString()
	}
	tip := &store.Tip{TipID: tipID, ReservePub: reservePub, Expiry: expiry}
	if err := store.AuthorizeTip(e.db, instanceID, tip, amount); err != nil {
		return nil, err
	}
	return tip, nil
}

// PlanchetRequest is one blinded coin a wallet wants signed during tip
// pickup.
type PlanchetRequest struct {
	DenomPub    string `json:"denom_pub"`
	BlindedCoin string `json:"blinded_coin"`
}

// PickUpResult is one planchet's blind signature.
type PickUpResult struct {
	DenomPub string `json:"denom_pub"`
	BlindSig string `json:"blind_sig"`
}

// PickUpTip verifies the tip has enough remaining balance, withdraws each
// planchet from the exchange, and rolls back entirely if any withdraw
// fails (spec §4.H: "Partial failure: all-or-nothing").
func (e *Engine) PickUpTip(ctx context.Context, exchangeURL string, tip *store.Tip, planchets []PlanchetRequest, total crypto.Amount) ([]PickUpResult, error) {
	remaining, err := crypto.ParseAmount(tip.Remaining)
	if err != nil {
		return nil, err
	}
	if remaining.Cmp(total) < 0 {
		return nil, store.ErrReserveExhausted
	}
	results := make([]PickUpResult, 0, len(planchets))
	for _, pl := range planchets {
		resp, err := e.exchange.ReserveWithdraw(ctx, exchangeURL, exchange.WithdrawRequest{
			ReservePub:  tip.ReservePub,
			DenomPub:    pl.DenomPub,
			BlindedCoin: pl.BlindedCoin,
		})
		if err != nil {
			// All-or-nothing: do not debit the tip/reserve ledgers for a
			// pickup where any planchet failed.
			return nil, err
		}
		results = append(results, PickUpResult{DenomPub: pl.DenomPub, BlindSig: resp.BlindSig})
	}
	if err := store.PickUpTip(e.db, tip.TipID, total); err != nil {
		return nil, err
	}
	e.notifier.Publish(store.TipKey(tip.InstanceID, tip.TipID))
	return results, nil
}
