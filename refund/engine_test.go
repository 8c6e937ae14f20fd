package refund

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

func noopKeyManager() *keystate.Manager {
	return keystate.NewManager(nil, nil, time.Minute)
}

type staticKeys struct{ priv *crypto.PrivateKey }

func (s staticKeys) PrivateKeyFor(string) (*crypto.PrivateKey, error) { return s.priv, nil }

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func seedPaidOrder(t *testing.T, db *gorm.DB, instanceID, orderID, total string, coins ...string) {
	t.Helper()
	seedPaidOrderWithAmounts(t, db, instanceID, orderID, total, coins, nil)
}

// seedPaidOrderWithAmounts seeds a paid order whose deposits carry
// individually chosen paid amounts (paidPerCoin), so pro-rata refund
// allocation across unequal deposits can be exercised. A nil
// paidPerCoin records the full total as each coin's paid amount, which is
// what the simpler seedPaidOrder fixture uses for tests that don't care
// about the split.
func seedPaidOrderWithAmounts(t *testing.T, db *gorm.DB, instanceID, orderID, total string, coins []string, paidPerCoin []string) {
	t.Helper()
	deposits := make([]store.Deposit, 0, len(coins))
	for i, c := range coins {
		paid := total
		if paidPerCoin != nil {
			paid = paidPerCoin[i]
		}
		deposits = append(deposits, store.Deposit{CoinPub: c, AmountWithFee: paid, AmountWithoutFee: paid})
	}
	require.NoError(t, db.Create(&store.Order{
		InstanceID:  instanceID,
		OrderID:     orderID,
		State:       store.OrderPaid,
		TotalAmount: total,
		Deposits:    deposits,
	}).Error)
}

func TestIncreaseRefundGrantsDelta(t *testing.T) {
	db := openDB(t)
	seedPaidOrder(t, db, "shop", "order-1", "KUDOS:10", "C1", "C2")

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	e := NewEngine(db, exchange.NewClient(time.Second, nil), staticKeys{priv: priv}, noopKeyManager(), store.NewNotifier())

	amount, err := crypto.ParseAmount("KUDOS:4")
	require.NoError(t, err)
	total, err := e.IncreaseRefund("shop", "order-1", amount, "requested by buyer")
	require.NoError(t, err)
	require.Equal(t, "KUDOS:4", total.String())

	records, err := store.ListRefunds(db, "shop", "order-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestIncreaseRefundAllocatesProRataByPaidShare(t *testing.T) {
	db := openDB(t)
	// C1 paid 3x what C2 paid; a partial refund must split 75/25, not
	// 50/50, or C2's grant would exceed what it ever paid.
	seedPaidOrderWithAmounts(t, db, "shop", "order-pro-rata", "KUDOS:8",
		[]string{"C1", "C2"}, []string{"KUDOS:6", "KUDOS:2"})

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	e := NewEngine(db, exchange.NewClient(time.Second, nil), staticKeys{priv: priv}, noopKeyManager(), store.NewNotifier())

	amount, err := crypto.ParseAmount("KUDOS:4")
	require.NoError(t, err)
	_, err = e.IncreaseRefund("shop", "order-pro-rata", amount, "pro rata check")
	require.NoError(t, err)

	records, err := store.ListRefunds(db, "shop", "order-pro-rata")
	require.NoError(t, err)
	require.Len(t, records, 2)

	byCoin := map[string]string{}
	for _, r := range records {
		byCoin[r.CoinPub] = r.Amount
	}
	require.Equal(t, "KUDOS:3", byCoin["C1"])
	require.Equal(t, "KUDOS:1", byCoin["C2"])
}

func TestIncreaseRefundIdempotentNoOp(t *testing.T) {
	db := openDB(t)
	seedPaidOrder(t, db, "shop", "order-2", "KUDOS:10", "C1")

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	e := NewEngine(db, exchange.NewClient(time.Second, nil), staticKeys{priv: priv}, noopKeyManager(), store.NewNotifier())

	amount, err := crypto.ParseAmount("KUDOS:3")
	require.NoError(t, err)
	_, err = e.IncreaseRefund("shop", "order-2", amount, "first")
	require.NoError(t, err)

	// Same amount again: idempotent no-op, not an error.
	total, err := e.IncreaseRefund("shop", "order-2", amount, "duplicate request")
	require.NoError(t, err)
	require.Equal(t, "KUDOS:3", total.String())

	records, err := store.ListRefunds(db, "shop", "order-2")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestIncreaseRefundExceedsPaid(t *testing.T) {
	db := openDB(t)
	seedPaidOrder(t, db, "shop", "order-3", "KUDOS:10", "C1")

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	e := NewEngine(db, exchange.NewClient(time.Second, nil), staticKeys{priv: priv}, noopKeyManager(), store.NewNotifier())

	amount, err := crypto.ParseAmount("KUDOS:11")
	require.NoError(t, err)
	_, err = e.IncreaseRefund("shop", "order-3", amount, "too much")
	require.ErrorIs(t, err, ErrRefundExceedsPaid)
}

func TestPickUpTipAllOrNothing(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create(&store.TipReserve{
		ReservePub: "R1",
		InstanceID: "shop",
		Authorized: "KUDOS:20",
		PickedUp:   "KUDOS:0",
	}).Error)

	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	calls := 0
	exSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 2 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"denomination_expired"}`))
			return
		}
		w.Write([]byte(`{"ev_sig":"sig"}`))
	}))
	defer exSrv.Close()

	e := NewEngine(db, exchange.NewClient(time.Second, nil), staticKeys{priv: priv}, noopKeyManager(), store.NewNotifier())

	amount, err := crypto.ParseAmount("KUDOS:5")
	require.NoError(t, err)
	tip, err := e.AuthorizeTip("shop", "tip-1", "R1", amount, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = e.PickUpTip(context.Background(), exSrv.URL, tip, []PlanchetRequest{
		{DenomPub: "D1", BlindedCoin: "B1"},
		{DenomPub: "D1", BlindedCoin: "B2"},
	}, amount)
	require.Error(t, err)

	// Rolled back: the tip's remaining balance is untouched by the failed pickup.
	reloaded, err := store.GetTip(db, "tip-1")
	require.NoError(t, err)
	require.Equal(t, "KUDOS:5", reloaded.Remaining)
}
