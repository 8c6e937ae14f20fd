package longpoll

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"merchantbackend/store"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func TestPollPaymentWakesOnPublish(t *testing.T) {
	db := openDB(t)
	notifier := store.NewNotifier()
	require.NoError(t, db.Create(&store.Order{
		InstanceID: "shop", OrderID: "order-1", State: store.OrderClaimed,
	}).Error)

	done := make(chan PaymentStatus, 1)
	go func() {
		status, err := PollPayment(context.Background(), db, notifier, "shop", "order-1", time.Now().Add(5*time.Second))
		require.NoError(t, err)
		done <- status
	}()

	// Give the poller time to register before the state changes.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, db.Model(&store.Order{}).
		Where("instance_id = ? AND order_id = ?", "shop", "order-1").
		Update("state", store.OrderPaid).Error)
	notifier.Publish(store.OrderKey("shop", "order-1"))

	select {
	case status := <-done:
		require.True(t, status.Paid)
	case <-time.After(2 * time.Second):
		t.Fatal("poll never woke up")
	}
}

func TestPollPaymentReturnsImmediatelyWhenAlreadyPaid(t *testing.T) {
	db := openDB(t)
	notifier := store.NewNotifier()
	require.NoError(t, db.Create(&store.Order{
		InstanceID: "shop", OrderID: "order-2", State: store.OrderPaid,
	}).Error)

	status, err := PollPayment(context.Background(), db, notifier, "shop", "order-2", time.Now().Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, status.Paid)
}

func TestPollPaymentTimesOut(t *testing.T) {
	db := openDB(t)
	notifier := store.NewNotifier()
	require.NoError(t, db.Create(&store.Order{
		InstanceID: "shop", OrderID: "order-3", State: store.OrderClaimed,
	}).Error)

	status, err := PollPayment(context.Background(), db, notifier, "shop", "order-3", time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	require.False(t, status.Paid)
	require.False(t, status.Aborted)
}
