package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchKeysDecodesWire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/keys", r.URL.Path)
		_ = json.NewEncoder(w).Encode(keysWire{
			Denominations: []denomWire{{DenomPub: "D1", Value: "KUDOS:1"}},
			SigningKeys:   []signingKeyWire{{Pub: "S1"}},
		})
	}))
	defer srv.Close()

	c := NewClient(time.Second, nil)
	resp, err := c.FetchKeys(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, resp.Denominations, 1)
	require.Equal(t, "D1", resp.Denominations[0].DenomPub)
}

func TestDoWrapsExchangeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"double_spend"}`))
	}))
	defer srv.Close()

	c := NewClient(time.Second, nil)
	_, err := c.Deposit(context.Background(), srv.URL, DepositRequest{CoinPub: "C1"})
	require.Error(t, err)
	var exchErr *ExchangeError
	require.ErrorAs(t, err, &exchErr)
	require.Equal(t, http.StatusConflict, exchErr.StatusCode)
}

func TestHostLimiterAppliesOverride(t *testing.T) {
	l := NewHostLimiter(HostLimit{RatePerSecond: 1000, Burst: 1000})
	l.SetHostLimit("https://slow.example", HostLimit{RatePerSecond: 1, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "https://slow.example"))
	// Second call exceeds the tiny bucket before the short deadline.
	require.Error(t, l.Wait(ctx, "https://slow.example"))
}
