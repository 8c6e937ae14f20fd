package keystate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// RawDenomination is an exchange's wire-format denomination key, decoded
// but not yet trust-evaluated.
type RawDenomination struct {
	DenomPub       string
	Value          string
	FeeWithdraw    string
	FeeDeposit     string
	FeeRefresh     string
	FeeRefund      string
	Start          time.Time
	WithdrawExpire time.Time
	SpendExpire    time.Time
	LegalExpire    time.Time
	MasterSig      string
	AuditorSigs    map[string]string
}

// RawSigningKey is an exchange's wire-format online signing key.
type RawSigningKey struct {
	Pub       string
	Start     time.Time
	Expire    time.Time
	MasterSig string
}

// KeysResponse is the decoded body of an exchange's /keys reply.
type KeysResponse struct {
	Denominations []RawDenomination
	SigningKeys   []RawSigningKey
}

// Fetcher retrieves an exchange's current key set, implemented by the
// Exchange Client (component D).
type Fetcher interface {
	FetchKeys(ctx context.Context, exchangeURL string) (KeysResponse, error)
}

// MasterVerifier checks a master-key signature over a denomination
// announcement, delegating to the crypto package's Ed25519 verification.
type MasterVerifier func(exchangeURL string, d RawDenomination) bool

// entry tracks one exchange's current snapshot plus a single count of
// outstanding handles on that exchange, implementing the copy-on-write
// handle scheme of spec §4.C / design note "Global reference-counted key
// snapshots": readers bump the count on Acquire and drop it on Release,
// and a reload swaps in a new snapshot atomically. Readers holding the old
// snapshot keep their pointer to it; the count is not consulted by
// reload, which copies the old snapshot's denominations into historic
// immediately.
type entry struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes reloads of this exchange
	refs    atomic.Int64
	policy  TrustPolicy

	// historic retains every denomination of each snapshot a reload has
	// replaced, keyed by denom_pub (the first copy seen is kept), so coins
	// deposited under them can still be audited or refunded after the key
	// expires (spec §4.C's historic table). Retention does not depend on
	// whether any deposit was committed against the denomination.
	historicMu sync.Mutex
	historic   map[string]Denomination
}

// Manager is the Key-State Manager (spec §4.C): one entry per known
// exchange, lazily created on first use.
type Manager struct {
	mu        sync.RWMutex
	exchanges map[string]*entry
	fetcher   Fetcher
	verify    MasterVerifier
	lookahead time.Duration
}

// NewManager builds a Manager. lookahead is how far before a snapshot's
// earliest expiry a background refresh should be triggered (spec's
// "key-lookahead duration" config knob).
func NewManager(fetcher Fetcher, verify MasterVerifier, lookahead time.Duration) *Manager {
	return &Manager{
		exchanges: make(map[string]*entry),
		fetcher:   fetcher,
		verify:    verify,
		lookahead: lookahead,
	}
}

// RegisterExchange installs (or replaces) the trust policy used when
// building snapshots for exchangeURL.
func (m *Manager) RegisterExchange(exchangeURL string, policy TrustPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exchanges[exchangeURL]
	if !ok {
		e = &entry{}
		m.exchanges[exchangeURL] = e
	}
	e.policy = policy
}

func (m *Manager) entryFor(exchangeURL string) *entry {
	m.mu.RLock()
	e, ok := m.exchanges[exchangeURL]
	m.mu.RUnlock()
	if ok {
		return e
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.exchanges[exchangeURL]; ok {
		return e
	}
	e := &entry{}
	m.exchanges[exchangeURL] = e
	return e
}

// Handle is a reference-counted lease on a Snapshot. Callers must call
// Release exactly once when done reading.
type Handle struct {
	Snapshot *Snapshot
	release  func()
}

// Release returns the handle, decrementing the exchange's outstanding
// handle count.
func (h Handle) Release() {
	if h.release != nil {
		h.release()
	}
}

// Acquire returns a handle on exchangeURL's current snapshot, fetching and
// validating one first if none exists yet or the current one's earliest
// key has expired (spec §4.C: "On first use or when the current
// snapshot's earliest key has expired, the manager refetches /keys").
func (m *Manager) Acquire(ctx context.Context, exchangeURL string) (Handle, error) {
	e := m.entryFor(exchangeURL)
	snap := e.current.Load()
	if snap == nil || time.Now().After(snap.earliestExpiry()) {
		var err error
		snap, err = m.reload(ctx, e, exchangeURL)
		if err != nil {
			return Handle{}, err
		}
	}
	e.refs.Add(1)
	return Handle{Snapshot: snap, release: func() { e.refs.Add(-1) }}, nil
}

// Reload forces a refetch of exchangeURL's keys regardless of expiry,
// used by the reload coordinator's signal-driven refresh (spec §4.C
// reload trigger 1).
func (m *Manager) Reload(ctx context.Context, exchangeURL string) error {
	e := m.entryFor(exchangeURL)
	_, err := m.reload(ctx, e, exchangeURL)
	return err
}

func (m *Manager) reload(ctx context.Context, e *entry, exchangeURL string) (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already reloaded while we waited on the lock.
	if snap := e.current.Load(); snap != nil && !time.Now().After(snap.earliestExpiry()) {
		return snap, nil
	}

	resp, err := m.fetcher.FetchKeys(ctx, exchangeURL)
	if err != nil {
		return nil, fmt.Errorf("keystate: fetch keys for %s: %w", exchangeURL, err)
	}

	denoms := make([]Denomination, 0, len(resp.Denominations))
	for _, rd := range resp.Denominations {
		masterOK := m.verify == nil || m.verify(exchangeURL, rd)
		d := Denomination{
			DenomPub:       rd.DenomPub,
			Value:          rd.Value,
			FeeWithdraw:    rd.FeeWithdraw,
			FeeDeposit:     rd.FeeDeposit,
			FeeRefresh:     rd.FeeRefresh,
			FeeRefund:      rd.FeeRefund,
			Start:          rd.Start,
			WithdrawExpire: rd.WithdrawExpire,
			SpendExpire:    rd.SpendExpire,
			LegalExpire:    rd.LegalExpire,
			MasterSig:      rd.MasterSig,
			AuditorSigs:    rd.AuditorSigs,
		}
		d.Trusted = e.policy.Evaluate(d, masterOK)
		denoms = append(denoms, d)
	}

	signingKeys := make([]SigningKey, 0, len(resp.SigningKeys))
	for _, rk := range resp.SigningKeys {
		signingKeys = append(signingKeys, SigningKey{
			Pub:       rk.Pub,
			Start:     rk.Start,
			Expire:    rk.Expire,
			MasterSig: rk.MasterSig,
		})
	}

	snap := &Snapshot{
		ExchangeURL:   exchangeURL,
		Denominations: denoms,
		SigningKeys:   signingKeys,
		FetchedAt:     time.Now(),
	}

	if old := e.current.Load(); old != nil {
		e.historicMu.Lock()
		if e.historic == nil {
			e.historic = make(map[string]Denomination)
		}
		for _, d := range old.Denominations {
			if _, ok := e.historic[d.DenomPub]; !ok {
				e.historic[d.DenomPub] = d
			}
		}
		e.historicMu.Unlock()
	}

	e.current.Store(snap)
	return snap, nil
}

// FindHistoricDenomination resolves denomPub against exchangeURL's
// denominations regardless of current validity, checking the live
// snapshot first and then the denominations of earlier snapshots that
// reloads have replaced (spec §4.C's retention guarantee, so refund and audit paths for
// old coins keep working after the key expires). Unlike Snapshot's own
// FindDenomination, this is not use- or expiry-gated: a coin that has
// already been deposited must remain resolvable for refund purposes
// even past its spend-expiry.
func (m *Manager) FindHistoricDenomination(exchangeURL, denomPub string) (Denomination, bool) {
	e := m.entryFor(exchangeURL)
	if snap := e.current.Load(); snap != nil {
		for _, d := range snap.Denominations {
			if d.DenomPub == denomPub {
				return d, true
			}
		}
	}
	e.historicMu.Lock()
	defer e.historicMu.Unlock()
	d, ok := e.historic[denomPub]
	return d, ok
}

// DueForRefresh reports whether exchangeURL's snapshot is within the
// configured lookahead window of its earliest expiry, used by the reload
// coordinator's expiry-timer trigger.
func (m *Manager) DueForRefresh(exchangeURL string) bool {
	e := m.entryFor(exchangeURL)
	snap := e.current.Load()
	if snap == nil {
		return true
	}
	return time.Now().Add(m.lookahead).After(snap.earliestExpiry())
}

// Exchanges returns every exchange URL the manager currently tracks.
func (m *Manager) Exchanges() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.exchanges))
	for url := range m.exchanges {
		out = append(out, url)
	}
	return out
}
