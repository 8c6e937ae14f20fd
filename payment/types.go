// Package payment is the Payment Pipeline (component G): parallel
// multi-coin deposit fan-out against one or more exchanges, per-coin
// outcome aggregation, and abort/refund recovery for half-paid orders.
package payment

import "time"

// CoinDeposit is one wallet-submitted coin's contribution to an order's
// payment (spec §4.G "Input").
type CoinDeposit struct {
	CoinPub          string `json:"coin_pub"`
	DenomPub         string `json:"denom_pub"`
	DenomSig         string `json:"denom_sig"`
	CoinSig          string `json:"coin_sig"`
	ExchangeURL      string `json:"exchange_url"`
	AmountWithFee    string `json:"amount_with_fee"`
	AmountWithoutFee string `json:"amount_without_fee"`
	DepositFee       string `json:"deposit_fee"`
	RefundFee        string `json:"refund_fee"`
}

// CoinOutcome reports one coin's deposit result, successful or not (spec
// §4.G "Output ... failure with per-coin diagnostics").
type CoinOutcome struct {
	CoinPub       string `json:"coin_pub"`
	OK            bool   `json:"ok"`
	Reason        string `json:"reason,omitempty"` // populated when !OK: "unauthorized", "double_spend", "exchange_unavailable", ...
	ExchangeReply []byte `json:"exchange_reply,omitempty"`
}

// Result is the outcome of a Pay call.
type Result struct {
	Paid     bool          `json:"paid"`
	Receipt  PaidReceipt   `json:"receipt"`
	Outcomes []CoinOutcome `json:"outcomes,omitempty"`
	ShortBy  string        `json:"short_by,omitempty"` // populated when the sum fell short of the contract total
}

// PaidReceipt is the merchant-signed confirmation a wallet receives once
// an order transitions to PAID.
type PaidReceipt struct {
	OrderID     string    `json:"order_id"`
	PaidAt      time.Time `json:"timestamp"`
	MerchantSig string    `json:"merchant_sig"`
}
