package payment

import (
	"time"

	"merchantbackend/crypto"
	"merchantbackend/store"
)

// AbortResult reports the coins, if any, for which the merchant issued
// refund signatures so the wallet can recover funds from an exchange-side
// deposit that never made it to a completed order (spec §4.G
// "Abort-refund").
type AbortResult struct {
	RefundedCoins []CoinRefund `json:"refunded_coins,omitempty"`
}

// CoinRefund is a merchant-signed refund permission for one coin.
type CoinRefund struct {
	CoinPub     string `json:"coin_pub"`
	Amount      string `json:"amount"`
	MerchantSig string `json:"merchant_sig"`
}

// Abort transitions an order to ABORTED. If any deposits were already
// submitted for it (a half-paid order the wallet is backing out of), the
// merchant issues refund signatures for each so the wallet can recover
// the funds; an abort that finds no deposits is a no-op beyond the state
// transition.
func (p *Pipeline) Abort(instanceID, orderID string) (AbortResult, error) {
	order, err := store.AbortOrder(p.db, instanceID, orderID)
	if err != nil {
		return AbortResult{}, err
	}
	p.notifier.Publish(store.OrderKey(instanceID, orderID))
	deposits, err := store.ListDeposits(p.db, instanceID, orderID)
	if err != nil {
		return AbortResult{}, err
	}
	if len(deposits) == 0 {
		return AbortResult{}, nil
	}

	privKey, err := p.keys.PrivateKeyFor(instanceID)
	if err != nil {
		return AbortResult{}, err
	}

	refunds := make([]CoinRefund, 0, len(deposits))
	for _, d := range deposits {
		payload := struct {
			OrderID string
			CoinPub string
			Amount  string
		}{OrderID: order.OrderID, CoinPub: d.CoinPub, Amount: d.AmountWithFee}
		hash, err := crypto.HashStruct(payload)
		if err != nil {
			return AbortResult{}, err
		}
		sig := privKey.Sign(crypto.PurposeRefundOK, hash)
		refunds = append(refunds, CoinRefund{
			CoinPub:     d.CoinPub,
			Amount:      d.AmountWithFee,
			MerchantSig: crypto.EncodeBinary(sig),
		})
	}
	return AbortResult{RefundedCoins: refunds}, nil
}

// PollDeadline computes the effective deadline for a request that may
// suspend on exchange RPCs, bounded by the remaining HTTP request time
// minus a grace margin (spec §5's cancellation semantics paragraph).
func PollDeadline(requestDeadline time.Time, grace time.Duration) time.Time {
	if requestDeadline.IsZero() {
		return time.Time{}
	}
	return requestDeadline.Add(-grace)
}
