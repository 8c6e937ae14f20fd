package orders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/store"
)

// Sentinel errors the HTTP surface maps to the taxonomy in spec §7.
var (
	ErrInvalidProposal   = errors.New("orders: invalid proposal")
	ErrProposalConflict  = errors.New("orders: proposal already exists with different content")
	ErrProposalUnchanged = errors.New("orders: proposal already exists with identical content")
	ErrClaimNonceMismatch = errors.New("orders: claim nonce mismatch")
)

// KeyProvider resolves an instance's signing private key, used to sign
// contract terms at claim time.
type KeyProvider interface {
	PrivateKeyFor(instanceID string) (*crypto.PrivateKey, error)
}

// TrustConfig supplies the exchanges/auditors a claimed contract declares
// as trusted (spec §4.F: "trusted_exchanges (from config), auditors").
type TrustConfig interface {
	TrustedExchanges(instanceID string) []TrustedExchange
	Auditors(instanceID string) []Auditor
}

// Engine implements the Order & Contract Engine.
type Engine struct {
	db    *gorm.DB
	keys  KeyProvider
	trust TrustConfig
}

// NewEngine builds an Engine.
func NewEngine(db *gorm.DB, keys KeyProvider, trust TrustConfig) *Engine {
	return &Engine{db: db, keys: keys, trust: trust}
}

func validateProposal(p Proposal) error {
	if p.Amount == "" {
		return fmt.Errorf("%w: amount is required", ErrInvalidProposal)
	}
	if _, err := crypto.ParseAmount(p.Amount); err != nil {
		return fmt.Errorf("%w: amount: %v", ErrInvalidProposal, err)
	}
	if p.MaxFee != "" {
		if _, err := crypto.ParseAmount(p.MaxFee); err != nil {
			return fmt.Errorf("%w: max_fee: %v", ErrInvalidProposal, err)
		}
	}
	if p.PayDeadline.IsZero() {
		return fmt.Errorf("%w: pay_deadline is required", ErrInvalidProposal)
	}
	if p.RefundDeadline.After(p.PayDeadline) {
		return fmt.Errorf("%w: refund_deadline must not be after pay_deadline", ErrInvalidProposal)
	}
	for i, item := range p.Products {
		if item.ProductID == "" {
			return fmt.Errorf("%w: products[%d].product_id is required", ErrInvalidProposal, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: products[%d].quantity must be positive", ErrInvalidProposal, i)
		}
	}
	return nil
}

// CreateProposal validates and stores a new order proposal (spec §4.F).
// A repeated, byte-identical proposal is reported via ErrProposalUnchanged
// (HTTP 204); a repeated, differing one via ErrProposalConflict (HTTP 409).
// An empty orderID is replaced by a generated UUID.
func (e *Engine) CreateProposal(instanceID, orderID string, p Proposal) (*store.Order, error) {
	if err := validateProposal(p); err != nil {
		return nil, err
	}
	if orderID == "" {
		orderID = uuid.NewString()
	}
	p.OrderID = orderID
	canon, err := crypto.CanonicalJSON(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	hash := crypto.EncodeBinary(crypto.Hash256(canon))

	existing, err := store.GetOrder(e.db, instanceID, orderID)
	if err == nil {
		if bytes.Equal(existing.Proposal, canon) {
			return existing, ErrProposalUnchanged
		}
		return nil, ErrProposalConflict
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	totalAmount, err := crypto.ParseAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	rec := &store.Order{
		InstanceID:      instanceID,
		OrderID:         orderID,
		State:           store.OrderProposed,
		Proposal:        canon,
		ProposalHash:    hash,
		PayDeadline:     p.PayDeadline,
		RefundDeadline:  p.RefundDeadline,
		TotalAmount:     totalAmount.String(),
	}
	if err := store.CreateOrder(e.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Claim transitions a proposal to CLAIMED, binding the wallet's nonce and
// producing merchant-signed contract terms (spec §4.F claim). merchant_pub
// is the instance's own signing public key, derived here from the private
// key that will sign the terms — it is never taken from caller input, since
// the public claim route is unauthenticated and a wallet supplying its own
// merchant_pub could otherwise forge the field the coin signature is
// required to cover.
func (e *Engine) Claim(instanceID, orderID, nonce, hWire string) (*store.Order, ContractTerms, error) {
	privKey, err := e.keys.PrivateKeyFor(instanceID)
	if err != nil {
		return nil, ContractTerms{}, err
	}
	merchantPub := privKey.Public().String()

	var terms ContractTerms
	rec, err := store.ClaimOrder(e.db, instanceID, orderID, nonce, nil, "", func(o *store.Order) {
		var p Proposal
		_ = json.Unmarshal(o.Proposal, &p)
		terms = ContractTerms{
			Proposal:         p,
			TrustedExchanges: e.trust.TrustedExchanges(instanceID),
			Auditors:         e.trust.Auditors(instanceID),
			HWire:            hWire,
			MerchantPub:      merchantPub,
			Timestamp:        time.Now().UTC(),
			Nonce:            nonce,
		}
		canon, cerr := crypto.CanonicalJSON(terms)
		if cerr != nil {
			return
		}
		hash := crypto.Hash256(canon)
		sig := privKey.Sign(crypto.PurposeContract, hash)
		o.ContractTerms = canon
		o.ContractHash = crypto.EncodeBinary(hash)
		o.MerchantSig = crypto.EncodeBinary(sig)
	})
	if errors.Is(err, store.ErrOrderStateConflict) {
		return nil, ContractTerms{}, ErrClaimNonceMismatch
	}
	if err != nil {
		return nil, ContractTerms{}, err
	}
	if len(rec.ContractTerms) > 0 {
		_ = json.Unmarshal(rec.ContractTerms, &terms)
	}
	return rec, terms, nil
}

// Lookup returns an order's contract terms. If nonce is non-empty it must
// match the stored claim nonce (spec §4.F: "only if the caller is the
// claimant"); an empty nonce performs an anonymous, status-only lookup.
func (e *Engine) Lookup(instanceID, orderID, nonce string) (*store.Order, *ContractTerms, error) {
	rec, err := store.GetOrder(e.db, instanceID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if nonce == "" {
		return rec, nil, nil
	}
	if rec.ClaimNonce != nonce {
		return rec, nil, ErrClaimNonceMismatch
	}
	var terms ContractTerms
	if len(rec.ContractTerms) > 0 {
		if err := json.Unmarshal(rec.ContractTerms, &terms); err != nil {
			return rec, nil, err
		}
	}
	return rec, &terms, nil
}
