package keystate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	resp KeysResponse
	err  error
	n    int
}

func (s *stubFetcher) FetchKeys(ctx context.Context, exchangeURL string) (KeysResponse, error) {
	s.n++
	return s.resp, s.err
}

func TestAcquireFetchesOnFirstUse(t *testing.T) {
	now := time.Now()
	fetcher := &stubFetcher{resp: KeysResponse{
		Denominations: []RawDenomination{{
			DenomPub:       "D1",
			Start:          now.Add(-time.Hour),
			WithdrawExpire: now.Add(time.Hour),
			SpendExpire:    now.Add(2 * time.Hour),
			MasterSig:      "sig",
		}},
	}}
	mgr := NewManager(fetcher, nil, time.Minute)
	mgr.RegisterExchange("https://exchange.example", NewTrustPolicy(false, nil))

	h, err := mgr.Acquire(context.Background(), "https://exchange.example")
	require.NoError(t, err)
	defer h.Release()
	require.Equal(t, 1, fetcher.n)

	d, ok := h.Snapshot.FindDenomination("D1", UseDeposit, now)
	require.True(t, ok)
	require.True(t, d.Trusted)
}

func TestFindDenominationRejectsExpired(t *testing.T) {
	now := time.Now()
	snap := &Snapshot{Denominations: []Denomination{{
		DenomPub:    "D1",
		Start:       now.Add(-2 * time.Hour),
		SpendExpire: now.Add(-time.Hour),
		Trusted:     true,
	}}}
	_, ok := snap.FindDenomination("D1", UseDeposit, now)
	require.False(t, ok)
}

func TestTrustPolicyRequiresAuditorWhenRequired(t *testing.T) {
	p := NewTrustPolicy(true, []string{"auditor-a"})
	untrusted := Denomination{AuditorSigs: map[string]string{"auditor-b": "sig"}}
	require.False(t, p.Evaluate(untrusted, true))

	trusted := Denomination{AuditorSigs: map[string]string{"auditor-a": "sig"}}
	require.True(t, p.Evaluate(trusted, true))
}

type rotatingFetcher struct {
	resps []KeysResponse
	n     int
	calls int
}

func (r *rotatingFetcher) FetchKeys(ctx context.Context, exchangeURL string) (KeysResponse, error) {
	r.calls++
	resp := r.resps[r.n]
	if r.n < len(r.resps)-1 {
		r.n++
	}
	return resp, nil
}

func TestFindHistoricDenominationSurvivesRotation(t *testing.T) {
	now := time.Now()
	fetcher := &rotatingFetcher{resps: []KeysResponse{
		{Denominations: []RawDenomination{{
			DenomPub:       "D1",
			Start:          now.Add(-2 * time.Hour),
			WithdrawExpire: now.Add(-time.Hour),
			SpendExpire:    now.Add(-time.Minute),
		}}},
		{Denominations: []RawDenomination{{
			DenomPub:       "D2",
			Start:          now.Add(-time.Hour),
			WithdrawExpire: now.Add(time.Hour),
			SpendExpire:    now.Add(2 * time.Hour),
		}}},
	}}
	mgr := NewManager(fetcher, nil, time.Minute)
	mgr.RegisterExchange("https://exchange.example", NewTrustPolicy(false, nil))

	h1, err := mgr.Acquire(context.Background(), "https://exchange.example")
	require.NoError(t, err)
	h1.Release()

	// D1's snapshot has already expired, forcing Acquire to reload and
	// install D2's snapshot; D1 must still resolve historically since a
	// deposit could have committed against it.
	h2, err := mgr.Acquire(context.Background(), "https://exchange.example")
	require.NoError(t, err)
	defer h2.Release()
	require.Equal(t, 2, fetcher.calls)

	_, ok := h2.Snapshot.FindDenomination("D1", UseDeposit, now)
	require.False(t, ok)

	d, ok := mgr.FindHistoricDenomination("https://exchange.example", "D1")
	require.True(t, ok)
	require.Equal(t, "D1", d.DenomPub)

	d2, ok := mgr.FindHistoricDenomination("https://exchange.example", "D2")
	require.True(t, ok)
	require.Equal(t, "D2", d2.DenomPub)
}

func TestAcquireReusesUnexpiredSnapshot(t *testing.T) {
	now := time.Now()
	fetcher := &stubFetcher{resp: KeysResponse{
		Denominations: []RawDenomination{{
			DenomPub:       "D1",
			Start:          now.Add(-time.Hour),
			WithdrawExpire: now.Add(time.Hour),
			SpendExpire:    now.Add(2 * time.Hour),
		}},
	}}
	mgr := NewManager(fetcher, nil, time.Minute)
	mgr.RegisterExchange("https://exchange.example", NewTrustPolicy(false, nil))

	h1, err := mgr.Acquire(context.Background(), "https://exchange.example")
	require.NoError(t, err)
	h1.Release()
	h2, err := mgr.Acquire(context.Background(), "https://exchange.example")
	require.NoError(t, err)
	h2.Release()
	require.Equal(t, 1, fetcher.n)
}
