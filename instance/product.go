package instance

import (
	"time"

	"merchantbackend/store"
)

// CreateProduct inserts a new product into an instance's inventory.
func (s *Service) CreateProduct(p *store.Product) error {
	if p.Stocked == 0 {
		p.Stocked = -1
	}
	p.Active = true
	return store.CreateProduct(s.db, p)
}

// GetProduct loads a single product.
func (s *Service) GetProduct(instanceID, productID string) (*store.Product, error) {
	return store.GetProduct(s.db, instanceID, productID)
}

// ListProducts returns an instance's active catalog.
func (s *Service) ListProducts(instanceID string) ([]store.Product, error) {
	return store.ListProducts(s.db, instanceID)
}

// UpdateProduct persists changed product fields.
func (s *Service) UpdateProduct(p *store.Product) error {
	return store.UpdateProduct(s.db, p)
}

// LockProduct reserves quantity units for an in-flight order (spec §3
// Stock lock), returning the fresh lock's identifier.
func (s *Service) LockProduct(instanceID, productID string, quantity int64, ttl time.Duration) (string, error) {
	lockUUID := GenerateLockUUID()
	expiry := time.Now().Add(ttl)
	if err := store.LockStock(s.db, instanceID, productID, lockUUID, quantity, expiry); err != nil {
		return "", err
	}
	return lockUUID, nil
}

// ReleaseLock releases a stock lock, crediting Sold if the backing order
// completed, or simply freeing the reservation otherwise.
func (s *Service) ReleaseLock(lockUUID string, sold bool) error {
	return store.ReleaseStockLock(s.db, lockUUID, sold)
}
