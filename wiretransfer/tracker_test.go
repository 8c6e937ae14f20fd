package wiretransfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"merchantbackend/exchange"
	"merchantbackend/store"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func TestTrackTransferResolvesOrderAndCaches(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create(&store.BankAccount{
		InstanceID: "shop",
		PaytoURI:   "payto://iban/DE1234",
		WireHash:   "HWIRE1",
		Active:     true,
	}).Error)
	require.NoError(t, db.Create(&store.Order{
		InstanceID:   "shop",
		OrderID:      "order-1",
		ContractHash: "PROPOSAL1",
	}).Error)

	calls := 0
	exSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"total":"KUDOS:10","h_wire":"HWIRE1","execution_time":"` + time.Now().Format(time.RFC3339) + `","coins":[{"coin_pub":"C1","h_proposal":"PROPOSAL1","deposit_value":"KUDOS:9","deposit_fee":"KUDOS:1"}]}`))
	}))
	defer exSrv.Close()

	tracker := NewTracker(db, exchange.NewClient(time.Second, nil))

	rec, err := tracker.TrackTransfer(context.Background(), "shop", exSrv.URL, "WTID1")
	require.NoError(t, err)
	require.Len(t, rec.Coins, 1)
	require.Equal(t, "order-1", rec.Coins[0].OrderID)

	// Second call is served from cache, no further exchange round-trip.
	_, err = tracker.TrackTransfer(context.Background(), "shop", exSrv.URL, "WTID1")
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestTrackTransferRejectsUnknownWireHash(t *testing.T) {
	db := openDB(t)
	exSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":"KUDOS:10","h_wire":"UNKNOWN","execution_time":"` + time.Now().Format(time.RFC3339) + `"}`))
	}))
	defer exSrv.Close()

	tracker := NewTracker(db, exchange.NewClient(time.Second, nil))
	_, err := tracker.TrackTransfer(context.Background(), "shop", exSrv.URL, "WTID2")
	require.ErrorIs(t, err, ErrWireHashMismatch)
}

func TestTrackTransactionNotYetTransferred(t *testing.T) {
	db := openDB(t)
	tracker := NewTracker(db, exchange.NewClient(time.Second, nil))
	status, err := tracker.TrackTransaction("shop", "order-unseen")
	require.NoError(t, err)
	require.False(t, status.Transferred)
}

func TestWireFeeBudgetDividesAcrossAmortization(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Create(&store.Instance{
		ID:                  "shop",
		MaxWireFee:          "KUDOS:4",
		WireFeeAmortization: 4,
	}).Error)

	tracker := NewTracker(db, exchange.NewClient(time.Second, nil))
	budget, err := tracker.WireFeeBudget("shop")
	require.NoError(t, err)
	require.Equal(t, "KUDOS:1", budget.String())
}
