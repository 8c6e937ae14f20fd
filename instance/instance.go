// Package instance is the Instance/Inventory Store (component E):
// multi-tenant merchant configuration, per-instance Ed25519 keypairs,
// bank accounts, and product inventory with stock locks, built directly
// on top of the store package's transactional primitives.
package instance

import (
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/store"
)

// Service wraps the persistence layer with instance/product/stock-lock
// business rules.
type Service struct {
	db     *gorm.DB
	keyDir string
}

// NewService builds an instance Service. keyDir is the directory under
// which each instance's signing private key is written (spec §6's
// "per-instance keyfile path" config knob).
func NewService(db *gorm.DB, keyDir string) *Service {
	return &Service{db: db, keyDir: keyDir}
}

// CreateParams describes a new instance (spec §3 Instance).
type CreateParams struct {
	ID                  string
	Name                string
	Address             []byte
	Jurisdiction        []byte
	MaxWireFee          string
	WireFeeAmortization int
	MaxDepositFee       string
	WireTransferDelay   time.Duration
	PayDelay            time.Duration
}

// ErrDuplicatePaytoURI is returned when an instance's bank accounts would
// contain the same payto URI twice (spec §3 invariant).
var ErrDuplicatePaytoURI = errors.New("instance: duplicate payto uri")

// Create provisions a new instance and its own Ed25519 signing keypair,
// persisting the private key to keyDir the way consensus/validator
// identities are persisted to a keyfile in the teacher's node tooling.
func (s *Service) Create(p CreateParams) (*store.Instance, error) {
	if p.ID == "" {
		return nil, errors.New("instance: id is required")
	}
	keyPath := filepath.Join(s.keyDir, p.ID+".key")
	priv, err := crypto.LoadOrCreateInstanceKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("instance: provision signing key: %w", err)
	}
	if p.WireFeeAmortization <= 0 {
		p.WireFeeAmortization = 1
	}
	rec := &store.Instance{
		ID:                  p.ID,
		Name:                p.Name,
		Address:             p.Address,
		Jurisdiction:        p.Jurisdiction,
		SigningPublicKey:    priv.Public().String(),
		KeyfilePath:         keyPath,
		MaxWireFee:          p.MaxWireFee,
		WireFeeAmortization: p.WireFeeAmortization,
		MaxDepositFee:       p.MaxDepositFee,
		WireTransferDelay:   p.WireTransferDelay,
		PayDelay:            p.PayDelay,
	}
	if err := store.CreateInstance(s.db, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads an instance by id.
func (s *Service) Get(id string) (*store.Instance, error) {
	return store.GetInstance(s.db, id)
}

// List returns every non-deleted instance.
func (s *Service) List() ([]store.Instance, error) {
	return store.ListInstances(s.db)
}

// Patch applies a partial update.
func (s *Service) Patch(rec *store.Instance) error {
	return store.UpdateInstance(s.db, rec)
}

// Delete soft-deletes an instance: its private key is erased, but audit
// rows and historical orders are preserved (spec §3: "deleting an
// instance erases its signing private key but preserves audit rows").
func (s *Service) Delete(id string) error {
	inst, err := store.GetInstance(s.db, id)
	if err != nil {
		return err
	}
	if err := crypto.ErasePrivateKey(inst.KeyfilePath); err != nil {
		return fmt.Errorf("instance: erase signing key: %w", err)
	}
	return store.SoftDeleteInstance(s.db, id)
}

// Purge hard-removes an instance, erasing its signing key and deleting its
// audit rows outright (spec §3: "hard-removed by PURGE", as opposed to
// Delete's soft-delete that preserves audit history).
func (s *Service) Purge(id string) error {
	inst, err := store.GetInstance(s.db, id)
	if err != nil {
		return err
	}
	if err := crypto.ErasePrivateKey(inst.KeyfilePath); err != nil {
		return fmt.Errorf("instance: erase signing key: %w", err)
	}
	return store.PurgeInstance(s.db, id)
}

// AddBankAccount appends a new payto destination to an instance,
// computing its wire-hash from a freshly generated salt (spec §3:
// "derived wire-hash = hash(payto || salt)").
func (s *Service) AddBankAccount(instanceID, paytoURI string) (*store.BankAccount, error) {
	inst, err := store.GetInstance(s.db, instanceID)
	if err != nil {
		return nil, err
	}
	for _, existing := range inst.BankAccounts {
		if existing.PaytoURI == paytoURI {
			return nil, ErrDuplicatePaytoURI
		}
	}
	salt := make([]byte, 16)
	if _, err := cryptorand.Read(salt); err != nil {
		return nil, err
	}
	wireHash := crypto.EncodeBinary(crypto.HashBankAccount(paytoURI, salt))
	acct := &store.BankAccount{
		InstanceID: instanceID,
		PaytoURI:   paytoURI,
		Salt:       salt,
		WireHash:   wireHash,
		Active:     true,
	}
	if err := store.AddBankAccount(s.db, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// ActiveBankAccount returns the instance's current active bank account,
// the one used as h_wire on newly claimed contracts.
func (s *Service) ActiveBankAccount(instanceID string) (*store.BankAccount, error) {
	inst, err := store.GetInstance(s.db, instanceID)
	if err != nil {
		return nil, err
	}
	for _, acct := range inst.BankAccounts {
		if acct.Active {
			return &acct, nil
		}
	}
	return nil, store.ErrNotFound
}

// GenerateLockUUID returns a fresh identifier for a new stock lock.
func GenerateLockUUID() string {
	return uuid.NewString()
}

// PrivateKeyFor loads an instance's signing private key from its keyfile,
// satisfying the KeyProvider interface the orders, payment, and refund
// packages depend on for contract/receipt/refund signing.
func (s *Service) PrivateKeyFor(instanceID string) (*crypto.PrivateKey, error) {
	inst, err := store.GetInstance(s.db, instanceID)
	if err != nil {
		return nil, err
	}
	return crypto.LoadOrCreateInstanceKey(inst.KeyfilePath)
}
