// Package longpoll is the Long-Poll Coordinator (component J): it blocks a
// request until an order's payment or refund state changes, a timeout
// elapses, or the client disconnects, without ever missing a wakeup that
// happens between the caller's initial state check and its subscription
// (spec §5's register-then-check-then-recheck ordering guarantee).
package longpoll

import (
	"context"
	"time"

	"gorm.io/gorm"

	"merchantbackend/store"
)

// PaymentStatus is the observable outcome of waiting for an order to be paid.
type PaymentStatus struct {
	Paid    bool
	Aborted bool
}

// PollPayment waits until the order is PAID or ABORTED, the deadline
// passes, or ctx is cancelled (a client disconnect). Registration happens
// before the first state check so a Publish racing the caller's poll can
// never be missed: it is queued on the channel if it fires after
// Subscribe but before the caller starts waiting on it.
func PollPayment(ctx context.Context, db *gorm.DB, notifier *store.Notifier, instanceID, orderID string, deadline time.Time) (PaymentStatus, error) {
	for {
		ch, cancel := notifier.Subscribe(store.OrderKey(instanceID, orderID))

		order, err := store.GetOrder(db, instanceID, orderID)
		if err != nil {
			cancel()
			return PaymentStatus{}, err
		}
		switch order.State {
		case store.OrderPaid:
			cancel()
			return PaymentStatus{Paid: true}, nil
		case store.OrderAborted:
			cancel()
			return PaymentStatus{Aborted: true}, nil
		}

		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if !deadline.IsZero() {
			timer = time.NewTimer(time.Until(deadline))
			timeoutCh = timer.C
		}

		select {
		case <-ch:
			if timer != nil {
				timer.Stop()
			}
			// State changed; loop to re-check and re-subscribe in case it
			// changed to something other than PAID/ABORTED (e.g. REFUNDED
			// from an already-PAID state never reaches here).
			continue
		case <-timeoutCh:
			cancel()
			return PaymentStatus{}, nil
		case <-ctx.Done():
			cancel()
			return PaymentStatus{}, ctx.Err()
		}
	}
}

// RefundStatus is the observable outcome of waiting for a refund to reach
// at least a minimum amount.
type RefundStatus struct {
	Reached bool
	Total   string
}

// PollRefund waits until the order's total refunded amount is at least
// minRefund, the deadline passes, or ctx is cancelled (spec §4.H's
// poll_refund: "wake as soon as the granted total reaches the
// caller-specified minimum, not merely on any refund event").
func PollRefund(ctx context.Context, db *gorm.DB, notifier *store.Notifier, instanceID, orderID string, minRefund func(total string) bool, deadline time.Time) (RefundStatus, error) {
	for {
		ch, cancel := notifier.Subscribe(store.RefundKey(instanceID, orderID))

		total, err := store.TotalRefunded(db, instanceID, orderID)
		if err != nil {
			cancel()
			return RefundStatus{}, err
		}
		if minRefund(total.String()) {
			cancel()
			return RefundStatus{Reached: true, Total: total.String()}, nil
		}

		var timer *time.Timer
		var timeoutCh <-chan time.Time
		if !deadline.IsZero() {
			timer = time.NewTimer(time.Until(deadline))
			timeoutCh = timer.C
		}

		select {
		case <-ch:
			if timer != nil {
				timer.Stop()
			}
			continue
		case <-timeoutCh:
			cancel()
			return RefundStatus{Total: total.String()}, nil
		case <-ctx.Done():
			cancel()
			return RefundStatus{}, ctx.Err()
		}
	}
}
