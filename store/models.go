// Package store is the persistence layer (spec §4.B): a transactional,
// GORM-backed store of instances, products, orders, deposits, refunds,
// tips, and wire-transfer reconciliations, modeled as GORM structs the way
// services/otc-gateway/models/models.go models its invoice workflow.
package store

import (
	"time"

	"gorm.io/gorm"
)

// OrderState is the order/contract lifecycle state (spec §3 Order).
type OrderState string

const (
	OrderProposed  OrderState = "PROPOSED"
	OrderClaimed   OrderState = "CLAIMED"
	OrderPaid      OrderState = "PAID"
	OrderRefunded  OrderState = "REFUNDED"
	OrderAborted   OrderState = "ABORTED"
)

// Instance is a multi-tenant merchant instance (spec §3 Instance).
type Instance struct {
	ID                    string `gorm:"primaryKey;size:128"`
	Name                  string `gorm:"size:255"`
	Address               []byte `gorm:"type:jsonb"`
	Jurisdiction          []byte `gorm:"type:jsonb"`
	SigningPublicKey      string `gorm:"size:64"`
	KeyfilePath           string `gorm:"size:512"`
	MaxWireFee            string `gorm:"size:64"`
	WireFeeAmortization   int    `gorm:"default:1"`
	MaxDepositFee         string `gorm:"size:64"`
	WireTransferDelay     time.Duration
	PayDelay              time.Duration
	Deleted               bool `gorm:"index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
	BankAccounts          []BankAccount `gorm:"constraint:OnDelete:CASCADE"`
}

// BankAccount is one of an instance's configured payto destinations
// (spec §3 Instance: "ordered list of bank accounts").
type BankAccount struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	InstanceID string `gorm:"size:128;index;uniqueIndex:idx_instance_payto"`
	PaytoURI   string `gorm:"size:512;uniqueIndex:idx_instance_payto"`
	Salt       []byte
	WireHash   string `gorm:"size:64;index"`
	Active     bool   `gorm:"index"`
	CreatedAt  time.Time
}

// Product is per-instance inventory (spec §3 Product).
type Product struct {
	InstanceID     string `gorm:"primaryKey;size:128"`
	ProductID      string `gorm:"primaryKey;size:128"`
	Description    string `gorm:"size:512"`
	DescriptionI18n []byte `gorm:"type:jsonb"`
	Unit           string `gorm:"size:64"`
	UnitPrice      string `gorm:"size:64"`
	Image          string `gorm:"type:text"`
	Taxes          []byte `gorm:"type:jsonb"`
	Stocked        int64  // -1 = infinite
	Sold           int64
	Lost           int64
	Location       string `gorm:"size:255"`
	NextRestock    *time.Time
	Active         bool `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Locks          []StockLock `gorm:"constraint:OnDelete:CASCADE"`
}

// StockLock reserves units of a product for an in-flight order
// (spec §3 Stock lock).
type StockLock struct {
	UUID       string `gorm:"primaryKey;size:36"`
	InstanceID string `gorm:"size:128;index:idx_stock_product"`
	ProductID  string `gorm:"size:128;index:idx_stock_product"`
	Quantity   int64
	Expiry     time.Time `gorm:"index"`
	Released   bool      `gorm:"index"`
	CreatedAt  time.Time
}

// Order is a proposal/contract and its lifecycle state (spec §3 Order).
type Order struct {
	InstanceID      string `gorm:"primaryKey;size:128"`
	OrderID         string `gorm:"primaryKey;size:128"`
	State           OrderState `gorm:"size:16;index"`
	Proposal        []byte     `gorm:"type:jsonb"`
	ProposalHash    string     `gorm:"size:64;index"`
	ContractTerms   []byte     `gorm:"type:jsonb"`
	ContractHash    string     `gorm:"size:64;index"`
	ClaimNonce      string     `gorm:"size:64"`
	MerchantSig     string     `gorm:"size:128"`
	PayDeadline     time.Time
	RefundDeadline  time.Time
	WireTransferDue time.Time
	TotalAmount     string `gorm:"size:64"`
	PaidResponse    []byte `gorm:"type:jsonb"`
	LogicalClock    int64  `gorm:"default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Deposits        []Deposit      `gorm:"constraint:OnDelete:CASCADE"`
	Refunds         []RefundRecord `gorm:"constraint:OnDelete:CASCADE"`
}

// Deposit is one coin's contribution to an order's payment (spec §3 Deposit).
type Deposit struct {
	InstanceID       string `gorm:"primaryKey;size:128"`
	OrderID          string `gorm:"primaryKey;size:128"`
	CoinPub          string `gorm:"primaryKey;size:64"`
	ExchangeURL      string `gorm:"size:255"`
	DenomPub         string `gorm:"size:64"`
	AmountWithFee    string `gorm:"size:64"`
	AmountWithoutFee string `gorm:"size:64"`
	DepositFee       string `gorm:"size:64"`
	RefundFee        string `gorm:"size:64"`
	WireHash         string `gorm:"size:64"`
	MerchantSig      string `gorm:"size:128"`
	ExchangeSig      string `gorm:"size:128;type:text"`
	CreatedAt        time.Time
}

// RefundRecord is one refund grant against a single coin (spec §3 Refund record).
type RefundRecord struct {
	InstanceID    string `gorm:"primaryKey;size:128"`
	OrderID       string `gorm:"primaryKey;size:128"`
	CoinPub       string `gorm:"primaryKey;size:64"`
	RTransactionID int64 `gorm:"primaryKey"`
	Amount        string `gorm:"size:64"`
	Reason        string `gorm:"size:512"`
	MerchantSig   string `gorm:"size:128"`
	CreatedAt     time.Time
}

// TipReserve is a merchant-funded reserve backing unsolicited tips
// (spec §3 Tip reserve).
type TipReserve struct {
	ReservePub string `gorm:"primaryKey;size:64"`
	InstanceID string `gorm:"size:128;index"`
	ExchangeURL string `gorm:"size:255"`
	Authorized string `gorm:"size:64"`
	PickedUp   string `gorm:"size:64"`
	Expiration time.Time
	CreatedAt  time.Time
}

// Tip is an individual tip drawn against a reserve (spec §3 Tip).
type Tip struct {
	TipID      string `gorm:"primaryKey;size:64"`
	InstanceID string `gorm:"size:128;index"`
	ReservePub string `gorm:"size:64;index"`
	Total      string `gorm:"size:64"`
	Remaining  string `gorm:"size:64"`
	Expiry     time.Time
	CreatedAt  time.Time
}

// WireTransferRecord caches an exchange-signed wire-transfer aggregation
// (spec §3 Wire-transfer record).
type WireTransferRecord struct {
	WTID        string `gorm:"primaryKey;size:64"`
	ExchangeURL string `gorm:"primaryKey;size:255"`
	InstanceID  string `gorm:"size:128;index"`
	Total       string `gorm:"size:64"`
	WireHash    string `gorm:"size:64"`
	ExecutionAt time.Time
	CreatedAt   time.Time
	Coins       []WireTransferCoin `gorm:"constraint:OnDelete:CASCADE"`
}

// WireTransferCoin is one (coin, order) line item within a wire transfer.
type WireTransferCoin struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	WTID          string `gorm:"size:64;index"`
	ExchangeURL   string `gorm:"size:255;index"`
	CoinPub       string `gorm:"size:64"`
	OrderID       string `gorm:"size:128;index"`
	InstanceID    string `gorm:"size:128;index"`
	DepositValue  string `gorm:"size:64"`
	DepositFee    string `gorm:"size:64"`
}

// IdempotencyRecord is a replayable response for a (instance, fingerprint)
// request, per spec §4.B and the Idempotency-Key handling in
// services/payments-gateway/storage.go and
// services/otc-gateway/middleware/idempotency.go.
type IdempotencyRecord struct {
	InstanceID  string `gorm:"primaryKey;size:128"`
	Fingerprint string `gorm:"primaryKey;size:64"`
	Status      int
	Body        []byte `gorm:"type:jsonb"`
	CreatedAt   time.Time
}

// AuditLogEntry records request/response pairs for operational forensics,
// grounded on services/payments-gateway/server.go's audit() method.
type AuditLogEntry struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	InstanceID     string `gorm:"size:128;index"`
	Method         string `gorm:"size:8"`
	Path           string `gorm:"size:512"`
	Status         int
	OccurredAt     time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the merchant backend.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Instance{},
		&BankAccount{},
		&Product{},
		&StockLock{},
		&Order{},
		&Deposit{},
		&RefundRecord{},
		&TipReserve{},
		&Tip{},
		&WireTransferRecord{},
		&WireTransferCoin{},
		&IdempotencyRecord{},
		&AuditLogEntry{},
	)
}
