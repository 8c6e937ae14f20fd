package main

import (
	"time"

	"merchantbackend/crypto"
	"merchantbackend/payment"
)

// walletCoinVerifier implements payment.CoinVerifier. The wallet-side coin
// wire format itself is out of this backend's scope (spec §1 treats the
// payment network's client libraries as an external dependency); this
// checks only what the merchant backend can: that CoinSig is a valid
// Ed25519 signature by CoinPub over the deposit permission's canonical
// fields, tying the coin to this exact contract, wire destination, and
// refund deadline so a permission cannot be replayed against another order.
type walletCoinVerifier struct{}

func (walletCoinVerifier) VerifyCoinDeposit(d payment.CoinDeposit, hContractTerms, hWire string, timestamp, refundDeadline time.Time, merchantPub string) bool {
	pubBytes, err := crypto.DecodeBinary(d.CoinPub)
	if err != nil {
		return false
	}
	pub, err := crypto.PublicKeyFromBytes(pubBytes)
	if err != nil {
		return false
	}
	sig, err := crypto.DecodeBinary(d.CoinSig)
	if err != nil {
		return false
	}
	payload := struct {
		ContractTermsHash string
		WireHash          string
		MerchantPub       string
		RefundDeadline    string
		AmountWithFee     string
		DenomPub          string
	}{
		ContractTermsHash: hContractTerms,
		WireHash:          hWire,
		MerchantPub:       merchantPub,
		RefundDeadline:    refundDeadline.UTC().Format(time.RFC3339),
		AmountWithFee:     d.AmountWithFee,
		DenomPub:          d.DenomPub,
	}
	hash, err := crypto.HashStruct(payload)
	if err != nil {
		return false
	}
	return pub.Verify(crypto.PurposeDepositConfirm, hash, sig)
}
