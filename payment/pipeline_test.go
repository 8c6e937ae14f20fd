package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/exchange"
	"merchantbackend/keystate"
	"merchantbackend/store"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) VerifyCoinDeposit(CoinDeposit, string, string, time.Time, time.Time, string) bool {
	return true
}

type fixedKeyProvider struct{ priv *crypto.PrivateKey }

func (f fixedKeyProvider) PrivateKeyFor(string) (*crypto.PrivateKey, error) { return f.priv, nil }

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func seedClaimedOrder(t *testing.T, db *gorm.DB, instanceID, orderID, total string) {
	t.Helper()
	require.NoError(t, db.Create(&store.Order{
		InstanceID:    instanceID,
		OrderID:       orderID,
		State:         store.OrderClaimed,
		TotalAmount:   total,
		ContractTerms: []byte(`{"h_wire":"HWIRE","merchant_pub":"MPUB","timestamp":"2026-01-01T00:00:00Z"}`),
		RefundDeadline: time.Now().Add(time.Hour),
	}).Error)
}

func TestPayHappyPath(t *testing.T) {
	exSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"exchange_sig":"sig"}`))
	}))
	defer exSrv.Close()

	db := openDB(t)
	seedClaimedOrder(t, db, "shop", "order-1", "KUDOS:10")

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	ks := keystate.NewManager(&stubFetcher{url: exSrv.URL}, nil, time.Minute)
	ks.RegisterExchange(exSrv.URL, keystate.NewTrustPolicy(false, nil))

	pipeline := NewPipeline(db, ks, exchange.NewClient(time.Second, nil), acceptAllVerifier{}, fixedKeyProvider{priv: priv}, store.NewNotifier())

	coins := []CoinDeposit{
		{CoinPub: "C1", DenomPub: "D1", ExchangeURL: exSrv.URL, AmountWithFee: "KUDOS:6", AmountWithoutFee: "KUDOS:5", DepositFee: "KUDOS:1"},
		{CoinPub: "C2", DenomPub: "D1", ExchangeURL: exSrv.URL, AmountWithFee: "KUDOS:6", AmountWithoutFee: "KUDOS:5", DepositFee: "KUDOS:1"},
	}
	result, err := pipeline.Pay(context.Background(), "shop", "order-1", coins)
	require.NoError(t, err)
	require.True(t, result.Paid)
	require.Len(t, result.Outcomes, 2)

	order, err := store.GetOrder(db, "shop", "order-1")
	require.NoError(t, err)
	require.Equal(t, store.OrderPaid, order.State)
}

func TestPayInsufficientFunds(t *testing.T) {
	db := openDB(t)
	seedClaimedOrder(t, db, "shop", "order-2", "KUDOS:10")

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	ks := keystate.NewManager(&stubFetcher{url: "https://exchange.example"}, nil, time.Minute)
	pipeline := NewPipeline(db, ks, exchange.NewClient(time.Second, nil), acceptAllVerifier{}, fixedKeyProvider{priv: priv}, store.NewNotifier())

	coins := []CoinDeposit{{CoinPub: "C1", ExchangeURL: "https://exchange.example", AmountWithoutFee: "KUDOS:9.99"}}
	_, err = pipeline.Pay(context.Background(), "shop", "order-2", coins)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

type stubFetcher struct{ url string }

func (s *stubFetcher) FetchKeys(ctx context.Context, exchangeURL string) (keystate.KeysResponse, error) {
	now := time.Now()
	return keystate.KeysResponse{
		Denominations: []keystate.RawDenomination{{
			DenomPub:       "D1",
			Start:          now.Add(-time.Hour),
			WithdrawExpire: now.Add(time.Hour),
			SpendExpire:    now.Add(2 * time.Hour),
			MasterSig:      "sig",
		}},
	}, nil
}
