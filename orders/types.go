// Package orders is the Order & Contract Engine (component F): proposal
// creation, wallet claim binding, contract-terms hashing and signing, and
// anonymous/claimant-scoped lookup.
package orders

import "time"

// ProposalProduct is one line item of a proposal (spec §4.F: "products
// well-formed").
type ProposalProduct struct {
	ProductID   string `json:"product_id"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	Price       string `json:"price"`
}

// Proposal is the frontend-supplied, unsigned sale description (spec §3
// Order: "an unsigned proposal (free-form structured value)"). Extra is
// preserved verbatim so instance-specific extensions round-trip through
// canonicalization unchanged.
type Proposal struct {
	OrderID        string            `json:"order_id,omitempty"`
	Amount         string            `json:"amount"`
	MaxFee         string            `json:"max_fee"`
	Summary        string            `json:"summary"`
	FulfillmentURL string            `json:"fulfillment_url"`
	PayDeadline    time.Time         `json:"pay_deadline"`
	RefundDeadline time.Time         `json:"refund_deadline"`
	Products       []ProposalProduct `json:"products,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// ContractTerms is a claimed order's frozen, signed offer (spec §3 Order
// and §4.F claim's "fields added at claim"). It embeds the original
// Proposal plus everything the claim operation adds.
type ContractTerms struct {
	Proposal
	TrustedExchanges []TrustedExchange `json:"exchanges"`
	Auditors         []Auditor         `json:"auditors"`
	HWire            string            `json:"h_wire"`
	MerchantPub      string            `json:"merchant_pub"`
	Timestamp        time.Time         `json:"timestamp"`
	Nonce            string            `json:"nonce"`
}

// TrustedExchange is one exchange the merchant accepts coins from.
type TrustedExchange struct {
	URL       string `json:"url"`
	MasterPub string `json:"master_pub"`
}

// Auditor is one accepted solvency auditor.
type Auditor struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Pub  string `json:"auditor_pub"`
}
