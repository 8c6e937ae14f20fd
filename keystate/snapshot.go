// Package keystate implements the Key-State Manager (spec §4.C): a
// per-exchange cache of denomination and signing keys, refreshed from the
// exchange's /keys endpoint and checked for auditor trust, exposed to
// readers as reference-counted, atomically swapped snapshots so a reload
// never invalidates an in-flight request.
package keystate

import "time"

// Use is one of the validity windows a denomination can be looked up
// under (spec §4.C: "use ∈ {WITHDRAW, DEPOSIT, REFRESH, REFUND}").
type Use string

const (
	UseWithdraw Use = "WITHDRAW"
	UseDeposit  Use = "DEPOSIT"
	UseRefresh  Use = "REFRESH"
	UseRefund   Use = "REFUND"
)

// Denomination is one exchange-issued denomination key and its fee/validity
// schedule (spec §3 Key-state snapshot).
type Denomination struct {
	DenomPub       string
	Value          string // crypto.Amount string form
	FeeWithdraw    string
	FeeDeposit     string
	FeeRefresh     string
	FeeRefund      string
	Start          time.Time
	WithdrawExpire time.Time
	SpendExpire    time.Time
	LegalExpire    time.Time
	MasterSig      string
	AuditorSigs    map[string]string // auditor name -> signature over this denom
	Trusted        bool
}

// validUntil returns the expiry boundary that applies to the given use.
func (d Denomination) validUntil(use Use) time.Time {
	switch use {
	case UseWithdraw:
		return d.WithdrawExpire
	case UseDeposit, UseRefresh, UseRefund:
		return d.SpendExpire
	default:
		return time.Time{}
	}
}

// validFor reports whether the denomination may be used for use at instant now.
func (d Denomination) validFor(use Use, now time.Time) bool {
	if now.Before(d.Start) {
		return false
	}
	return now.Before(d.validUntil(use))
}

// SigningKey is an exchange's online message-signing key, distinct from its
// coin-issuing denomination keys.
type SigningKey struct {
	Pub       string
	Start     time.Time
	Expire    time.Time
	MasterSig string
}

// Snapshot is one exchange's complete, validated key state at a point in
// time (spec §3 Key-state snapshot). Snapshots are immutable once built;
// the Manager swaps pointers to new Snapshots rather than mutating one in
// place.
type Snapshot struct {
	ExchangeURL  string
	Denominations []Denomination
	SigningKeys   []SigningKey
	CombinedHash  string
	FetchedAt     time.Time
}

// FindDenomination returns the denomination matching denomPub if it is
// currently valid for use, per spec §4.C's find_denomination contract.
func (s *Snapshot) FindDenomination(denomPub string, use Use, now time.Time) (Denomination, bool) {
	if s == nil {
		return Denomination{}, false
	}
	for _, d := range s.Denominations {
		if d.DenomPub == denomPub && d.Trusted && d.validFor(use, now) {
			return d, true
		}
	}
	return Denomination{}, false
}

// CurrentSigningKey returns the most recent signing key whose validity
// window contains now, per spec §4.C's strict tie-break rule.
func (s *Snapshot) CurrentSigningKey(now time.Time) (SigningKey, bool) {
	if s == nil {
		return SigningKey{}, false
	}
	var best SigningKey
	found := false
	for _, k := range s.SigningKeys {
		if now.Before(k.Start) || !now.Before(k.Expire) {
			continue
		}
		if !found || k.Start.After(best.Start) {
			best = k
			found = true
		}
	}
	return best, found
}

// earliestExpiry returns the soonest spend-expiry among the snapshot's
// denominations, used by the Manager to decide when a refetch is due.
func (s *Snapshot) earliestExpiry() time.Time {
	var earliest time.Time
	for _, d := range s.Denominations {
		if earliest.IsZero() || d.SpendExpire.Before(earliest) {
			earliest = d.SpendExpire
		}
	}
	return earliest
}
