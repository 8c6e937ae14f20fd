package main

import (
	"merchantbackend/config"
	"merchantbackend/crypto"
	"merchantbackend/keystate"
	"merchantbackend/orders"
)

// configTrust adapts the static config.Config exchange/auditor lists into
// the orders.TrustConfig the Order & Contract Engine needs to populate a
// claimed contract's exchanges/auditors fields. Every instance currently
// shares one global trust list; per-instance overrides are not configured.
type configTrust struct {
	cfg *config.Config
}

func (t configTrust) TrustedExchanges(instanceID string) []orders.TrustedExchange {
	out := make([]orders.TrustedExchange, 0, len(t.cfg.Exchanges))
	for _, ex := range t.cfg.Exchanges {
		if !ex.Trusted {
			continue
		}
		out = append(out, orders.TrustedExchange{URL: ex.URL, MasterPub: ex.MasterPub})
	}
	return out
}

func (t configTrust) Auditors(instanceID string) []orders.Auditor {
	out := make([]orders.Auditor, 0, len(t.cfg.Auditors))
	for _, a := range t.cfg.Auditors {
		out = append(out, orders.Auditor{Name: a.Name, URL: a.URL, Pub: a.PublicKey})
	}
	return out
}

// masterVerifierFor builds a keystate.MasterVerifier that checks a
// denomination's master signature against the configured master public key
// for its exchange, so a key snapshot only marks a denomination Trusted
// when the master key actually signed it (spec §4.C "master-signed AND").
func masterVerifierFor(cfg *config.Config) keystate.MasterVerifier {
	masterPubs := make(map[string]crypto.PublicKey, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		raw, err := crypto.DecodeBinary(ex.MasterPub)
		if err != nil {
			continue
		}
		pub, err := crypto.PublicKeyFromBytes(raw)
		if err != nil {
			continue
		}
		masterPubs[ex.URL] = pub
	}

	return func(exchangeURL string, d keystate.RawDenomination) bool {
		pub, ok := masterPubs[exchangeURL]
		if !ok {
			return false
		}
		sig, err := crypto.DecodeBinary(d.MasterSig)
		if err != nil {
			return false
		}
		payload := struct {
			DenomPub       string
			Value          string
			FeeWithdraw    string
			FeeDeposit     string
			FeeRefresh     string
			FeeRefund      string
			Start          string
			WithdrawExpire string
			SpendExpire    string
			LegalExpire    string
		}{
			DenomPub:       d.DenomPub,
			Value:          d.Value,
			FeeWithdraw:    d.FeeWithdraw,
			FeeDeposit:     d.FeeDeposit,
			FeeRefresh:     d.FeeRefresh,
			FeeRefund:      d.FeeRefund,
			Start:          d.Start.UTC().Format("2006-01-02T15:04:05Z"),
			WithdrawExpire: d.WithdrawExpire.UTC().Format("2006-01-02T15:04:05Z"),
			SpendExpire:    d.SpendExpire.UTC().Format("2006-01-02T15:04:05Z"),
			LegalExpire:    d.LegalExpire.UTC().Format("2006-01-02T15:04:05Z"),
		}
		hash, err := crypto.HashStruct(payload)
		if err != nil {
			return false
		}
		return pub.Verify(crypto.PurposeKeySet, hash, sig)
	}
}
