// Package exchange is the Exchange Client (component D): a thin,
// rate-limited JSON/HTTP client for the payment network's exchange-side
// RPCs (/keys, /coins/{coin_pub}/deposit, /transfers/{wtid},
// /reserves/{pub}/withdraw, /refund), grounded on the lightweight HTTP
// client pattern in services/payments-gateway/node_client.go.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"merchantbackend/keystate"
	"merchantbackend/observability"
)

// Client talks to exchanges' REST surfaces; each call names the exchange
// by its base URL, so one Client serves every exchange.
type Client struct {
	http    *http.Client
	limiter *HostLimiter
}

// NewClient builds a Client with a bounded request timeout and a
// per-exchange-host rate limiter.
func NewClient(timeout time.Duration, limiter *HostLimiter) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// ErrExchangeUnavailable wraps network/timeout failures reaching an
// exchange (spec §7: maps to 503 Service unavailable).
var ErrExchangeUnavailable = fmt.Errorf("exchange: unavailable")

// ExchangeError carries an exchange's own error body verbatim (spec §7:
// "wrapping the exchange's error body verbatim under exchange_reply").
type ExchangeError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange: request failed with status %d", e.StatusCode)
}

// FetchKeys implements keystate.Fetcher against GET /keys.
func (c *Client) FetchKeys(ctx context.Context, exchangeURL string) (keystate.KeysResponse, error) {
	var wire keysWire
	if err := c.do(ctx, exchangeURL, http.MethodGet, "/keys", nil, &wire); err != nil {
		return keystate.KeysResponse{}, err
	}
	return wire.toKeysResponse(), nil
}

// DepositRequest is one coin's deposit submission (spec §4.G step 5).
type DepositRequest struct {
	CoinPub          string `json:"coin_pub"`
	DenomPub         string `json:"denom_pub"`
	DenomSig         string `json:"denom_sig"`
	CoinSig          string `json:"coin_sig"`
	AmountWithFee    string `json:"amount_with_fee"`
	AmountWithoutFee string `json:"amount_without_fee"`
	DepositFee       string `json:"deposit_fee"`
	HWire            string `json:"h_wire"`
	HContractTerms   string `json:"h_contract_terms"`
	Timestamp        time.Time `json:"timestamp"`
	RefundDeadline   time.Time `json:"refund_deadline"`
	MerchantPub      string `json:"merchant_pub"`
}

// DepositConfirmation is the exchange's signed response to a deposit.
type DepositConfirmation struct {
	ExchangeSig string `json:"exchange_sig"`
	ExchangePub string `json:"exchange_pub"`
}

// Deposit submits one coin's deposit to its issuing exchange.
func (c *Client) Deposit(ctx context.Context, exchangeURL string, req DepositRequest) (DepositConfirmation, error) {
	var out DepositConfirmation
	path := fmt.Sprintf("/coins/%s/deposit", req.CoinPub)
	err := c.do(ctx, exchangeURL, http.MethodPost, path, req, &out)
	return out, err
}

// TransferCoin is one (coin, order) line item inside a wire-transfer
// aggregation, as reported by GET /transfers/{wtid}.
type TransferCoin struct {
	CoinPub       string `json:"coin_pub"`
	ProposalHash  string `json:"h_proposal"`
	DepositValue  string `json:"deposit_value"`
	DepositFee    string `json:"deposit_fee"`
}

// TransferReport is the exchange's aggregation receipt for one wtid.
type TransferReport struct {
	Total       string         `json:"total"`
	WireHash    string         `json:"h_wire"`
	ExecutionAt time.Time      `json:"execution_time"`
	Coins       []TransferCoin `json:"coins"`
}

// TrackTransfer implements the Wire-Transfer Tracker's GET /transfers/{wtid}.
func (c *Client) TrackTransfer(ctx context.Context, exchangeURL, wtid string) (TransferReport, error) {
	var out TransferReport
	err := c.do(ctx, exchangeURL, http.MethodGet, "/transfers/"+wtid, nil, &out)
	return out, err
}

// WithdrawRequest is one blinded planchet submitted against a reserve for
// a tip pickup (spec §4.H).
type WithdrawRequest struct {
	ReservePub    string `json:"reserve_pub"`
	DenomPub      string `json:"denom_pub"`
	BlindedCoin   string `json:"coin_ev"`
	ReserveSig    string `json:"reserve_sig"`
}

// WithdrawResponse is the exchange's blind signature over a planchet.
type WithdrawResponse struct {
	BlindSig string `json:"ev_sig"`
}

// ReserveWithdraw implements POST /reserves/{pub}/withdraw.
func (c *Client) ReserveWithdraw(ctx context.Context, exchangeURL string, req WithdrawRequest) (WithdrawResponse, error) {
	var out WithdrawResponse
	path := fmt.Sprintf("/reserves/%s/withdraw", req.ReservePub)
	err := c.do(ctx, exchangeURL, http.MethodPost, path, req, &out)
	return out, err
}

// RefundRequest asks the exchange to restore a coin's spendable balance
// (spec §4.H refund issuance).
type RefundRequest struct {
	CoinPub        string `json:"coin_pub"`
	HContractTerms string `json:"h_contract_terms"`
	RTransactionID int64  `json:"rtransaction_id"`
	Amount         string `json:"refund_amount"`
	MerchantSig    string `json:"merchant_sig"`
}

// RefundResponse is the exchange's acknowledgement of a refund.
type RefundResponse struct {
	ExchangeSig string `json:"exchange_sig"`
}

// Refund implements POST /refund.
func (c *Client) Refund(ctx context.Context, exchangeURL string, req RefundRequest) (RefundResponse, error) {
	var out RefundResponse
	err := c.do(ctx, exchangeURL, http.MethodPost, "/refund", req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, exchangeURL, method, path string, body, out interface{}) error {
	start := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, exchangeURL); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, exchangeURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	outcome := "ok"
	defer func() {
		observability.Metrics().ObserveExchangeCall(method+" "+path, outcome, time.Since(start))
	}()
	if err != nil {
		outcome = "unavailable"
		return fmt.Errorf("%w: %v", ErrExchangeUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "read_error"
		return err
	}

	if resp.StatusCode >= 400 {
		outcome = "exchange_error"
		return &ExchangeError{StatusCode: resp.StatusCode, Body: respBody}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		outcome = "decode_error"
		return fmt.Errorf("exchange: decode response from %s%s: %w", exchangeURL, path, err)
	}
	return nil
}
