package exchange

import (
	"time"

	"merchantbackend/keystate"
)

// denomWire is one denomination entry as returned by GET /keys.
type denomWire struct {
	DenomPub       string            `json:"denom_pub"`
	Value          string            `json:"value"`
	FeeWithdraw    string            `json:"fee_withdraw"`
	FeeDeposit     string            `json:"fee_deposit"`
	FeeRefresh     string            `json:"fee_refresh"`
	FeeRefund      string            `json:"fee_refund"`
	Start          time.Time         `json:"stamp_start"`
	WithdrawExpire time.Time         `json:"stamp_expire_withdraw"`
	SpendExpire    time.Time         `json:"stamp_expire_deposit"`
	LegalExpire    time.Time         `json:"stamp_expire_legal"`
	MasterSig      string            `json:"master_sig"`
	AuditorSigs    map[string]string `json:"auditor_sigs"`
}

// signingKeyWire is one online signing key entry as returned by GET /keys.
type signingKeyWire struct {
	Pub       string    `json:"key"`
	Start     time.Time `json:"stamp_start"`
	Expire    time.Time `json:"stamp_expire"`
	MasterSig string    `json:"master_sig"`
}

// keysWire is the decoded body of GET /keys.
type keysWire struct {
	Denominations []denomWire      `json:"denoms"`
	SigningKeys   []signingKeyWire `json:"signkeys"`
}

func (k keysWire) toKeysResponse() keystate.KeysResponse {
	out := keystate.KeysResponse{
		Denominations: make([]keystate.RawDenomination, 0, len(k.Denominations)),
		SigningKeys:   make([]keystate.RawSigningKey, 0, len(k.SigningKeys)),
	}
	for _, d := range k.Denominations {
		out.Denominations = append(out.Denominations, keystate.RawDenomination{
			DenomPub:       d.DenomPub,
			Value:          d.Value,
			FeeWithdraw:    d.FeeWithdraw,
			FeeDeposit:     d.FeeDeposit,
			FeeRefresh:     d.FeeRefresh,
			FeeRefund:      d.FeeRefund,
			Start:          d.Start,
			WithdrawExpire: d.WithdrawExpire,
			SpendExpire:    d.SpendExpire,
			LegalExpire:    d.LegalExpire,
			MasterSig:      d.MasterSig,
			AuditorSigs:    d.AuditorSigs,
		})
	}
	for _, s := range k.SigningKeys {
		out.SigningKeys = append(out.SigningKeys, keystate.RawSigningKey{
			Pub:       s.Pub,
			Start:     s.Start,
			Expire:    s.Expire,
			MasterSig: s.MasterSig,
		})
	}
	return out
}
