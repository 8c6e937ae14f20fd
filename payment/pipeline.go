package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/exchange"
	"merchantbackend/keystate"
	"merchantbackend/orders"
	"merchantbackend/store"
)

// Sentinel errors the HTTP surface maps to spec §7's taxonomy.
var (
	ErrOrderNotClaimed    = errors.New("payment: order is not claimed")
	ErrInsufficientFunds  = errors.New("payment: insufficient funds")
	ErrUnauthorizedCoin   = errors.New("payment: coin failed signature verification")
)

// CoinVerifier checks a coin's deposit-permission signature. Per spec §1
// ("the wire-format helpers that are already covered by the payment
// network's standard libraries ... coin-signature verification" is
// explicitly out of scope here), this is an external collaborator: the
// pipeline depends on it as an injected interface rather than
// implementing the wallet/coin wire format itself.
type CoinVerifier interface {
	VerifyCoinDeposit(d CoinDeposit, hContractTerms, hWire string, timestamp, refundDeadline time.Time, merchantPub string) bool
}

// KeyProvider resolves an instance's signing private key for the
// merchant-signed paid receipt (spec §4.G step 6).
type KeyProvider interface {
	PrivateKeyFor(instanceID string) (*crypto.PrivateKey, error)
}

// Pipeline implements the Payment Pipeline (component G).
type Pipeline struct {
	db       *gorm.DB
	keystate *keystate.Manager
	exchange *exchange.Client
	verifier CoinVerifier
	keys     KeyProvider
	notifier *store.Notifier
}

// NewPipeline builds a Pipeline.
func NewPipeline(db *gorm.DB, ks *keystate.Manager, ex *exchange.Client, verifier CoinVerifier, keys KeyProvider, notifier *store.Notifier) *Pipeline {
	return &Pipeline{db: db, keystate: ks, exchange: ex, verifier: verifier, keys: keys, notifier: notifier}
}

// Pay runs the full multi-coin deposit algorithm of spec §4.G.
func (p *Pipeline) Pay(ctx context.Context, instanceID, orderID string, coins []CoinDeposit) (Result, error) {
	order, err := store.GetOrder(p.db, instanceID, orderID)
	if err != nil {
		return Result{}, err
	}
	if order.State == store.OrderPaid {
		return Result{Paid: true, Receipt: decodeReceipt(order)}, nil
	}
	if order.State != store.OrderClaimed {
		return Result{}, ErrOrderNotClaimed
	}

	total, err := crypto.ParseAmount(order.TotalAmount)
	if err != nil {
		return Result{}, err
	}
	sum := crypto.Zero(total.Currency)
	for _, c := range coins {
		a, err := crypto.ParseAmount(c.AmountWithoutFee)
		if err != nil {
			return Result{}, fmt.Errorf("%w: coin %s: %v", ErrUnauthorizedCoin, c.CoinPub, err)
		}
		sum, err = sum.Add(a)
		if err != nil {
			return Result{}, err
		}
	}
	if sum.Cmp(total) < 0 {
		short, _ := total.Sub(sum)
		return Result{ShortBy: short.String()}, ErrInsufficientFunds
	}

	contract, err := contractTermsOf(order)
	if err != nil {
		return Result{}, err
	}
	var terms struct {
		HContractTerms string
		HWire          string
		Timestamp      time.Time
		RefundDeadline time.Time
		MerchantPub    string
	}
	terms.HContractTerms = order.ContractHash
	terms.HWire = contract.HWire
	terms.Timestamp = contract.Timestamp
	terms.RefundDeadline = order.RefundDeadline
	terms.MerchantPub = contract.MerchantPub

	for _, c := range coins {
		if !p.verifier.VerifyCoinDeposit(c, terms.HContractTerms, terms.HWire, terms.Timestamp, terms.RefundDeadline, terms.MerchantPub) {
			return Result{Outcomes: []CoinOutcome{{CoinPub: c.CoinPub, OK: false, Reason: "unauthorized"}}},
				fmt.Errorf("%w: coin %s", ErrUnauthorizedCoin, c.CoinPub)
		}
		handle, err := p.keystate.Acquire(ctx, c.ExchangeURL)
		if err != nil {
			return Result{}, fmt.Errorf("keystate: %w", err)
		}
		_, trusted := handle.Snapshot.FindDenomination(c.DenomPub, keystate.UseDeposit, time.Now())
		handle.Release()
		if !trusted {
			return Result{Outcomes: []CoinOutcome{{CoinPub: c.CoinPub, OK: false, Reason: "denomination_not_trusted"}}},
				fmt.Errorf("%w: coin %s: denomination not trusted for deposit", ErrUnauthorizedCoin, c.CoinPub)
		}
	}

	outcomes := p.depositAll(ctx, coins, terms.HContractTerms, terms.HWire, terms.Timestamp, terms.RefundDeadline, terms.MerchantPub)
	allOK := true
	for _, o := range outcomes {
		if !o.OK {
			allOK = false
			break
		}
	}
	if !allOK {
		return Result{Outcomes: outcomes}, fmt.Errorf("payment: one or more coins failed deposit")
	}

	deposits := make([]store.Deposit, 0, len(coins))
	for _, c := range coins {
		deposits = append(deposits, store.Deposit{
			CoinPub:          c.CoinPub,
			ExchangeURL:      c.ExchangeURL,
			DenomPub:         c.DenomPub,
			AmountWithFee:    c.AmountWithFee,
			AmountWithoutFee: c.AmountWithoutFee,
			DepositFee:       c.DepositFee,
			RefundFee:        c.RefundFee,
			WireHash:         terms.HWire,
		})
	}

	privKey, err := p.keys.PrivateKeyFor(instanceID)
	if err != nil {
		return Result{}, err
	}
	receipt := PaidReceipt{OrderID: orderID, PaidAt: time.Now().UTC()}
	receiptHash, err := crypto.HashStruct(receipt)
	if err != nil {
		return Result{}, err
	}
	receipt.MerchantSig = crypto.EncodeBinary(privKey.Sign(crypto.PurposeDepositConfirm, receiptHash))
	receiptBytes, err := encodeReceipt(receipt)
	if err != nil {
		return Result{}, err
	}

	if _, err := store.MarkPaid(p.db, instanceID, orderID, deposits, receiptBytes); err != nil {
		return Result{}, err
	}
	p.notifier.Publish(store.OrderKey(instanceID, orderID))

	return Result{Paid: true, Receipt: receipt, Outcomes: outcomes}, nil
}

// depositAll dispatches one deposit RPC per coin in parallel and joins
// before returning (spec §4.G step 5 / §5: "all per-coin RPCs for one
// request are fired in parallel and joined before the single persisting
// transaction").
func (p *Pipeline) depositAll(ctx context.Context, coins []CoinDeposit, hContractTerms, hWire string, timestamp, refundDeadline time.Time, merchantPub string) []CoinOutcome {
	outcomes := make([]CoinOutcome, len(coins))
	var wg sync.WaitGroup
	for i, c := range coins {
		wg.Add(1)
		go func(i int, c CoinDeposit) {
			defer wg.Done()
			// Deliberately uses context.Background() here, not ctx: spec's
			// cancellation design note says in-flight deposit RPCs must run
			// to completion even if the client disconnects, so a later
			// retry observes a consistent exchange-side state.
			_, err := p.exchange.Deposit(context.Background(), c.ExchangeURL, exchange.DepositRequest{
				CoinPub:          c.CoinPub,
				DenomPub:         c.DenomPub,
				DenomSig:         c.DenomSig,
				CoinSig:          c.CoinSig,
				AmountWithFee:    c.AmountWithFee,
				AmountWithoutFee: c.AmountWithoutFee,
				DepositFee:       c.DepositFee,
				HWire:            hWire,
				HContractTerms:   hContractTerms,
				Timestamp:        timestamp,
				RefundDeadline:   refundDeadline,
				MerchantPub:      merchantPub,
			})
			if err != nil {
				outcomes[i] = CoinOutcome{CoinPub: c.CoinPub, OK: false, Reason: classifyDepositError(err)}
				var exchErr *exchange.ExchangeError
				if errors.As(err, &exchErr) {
					outcomes[i].ExchangeReply = exchErr.Body
				}
				return
			}
			outcomes[i] = CoinOutcome{CoinPub: c.CoinPub, OK: true}
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

func classifyDepositError(err error) string {
	if errors.Is(err, exchange.ErrExchangeUnavailable) {
		return "exchange_unavailable"
	}
	var exchErr *exchange.ExchangeError
	if errors.As(err, &exchErr) {
		return "exchange_rejected"
	}
	return "error"
}

// contractTermsOf decodes an order's frozen, signed contract terms — in
// particular h_wire, merchant_pub, and the claim-time timestamp the coin
// signatures were computed over — so the deposit RPC and its signature
// check are verified against the actual contract, not a proxy value like a
// GORM-maintained UpdatedAt column.
func contractTermsOf(o *store.Order) (orders.ContractTerms, error) {
	var terms orders.ContractTerms
	if len(o.ContractTerms) == 0 {
		return terms, nil
	}
	if err := decodeJSON(o.ContractTerms, &terms); err != nil {
		return orders.ContractTerms{}, err
	}
	return terms, nil
}
