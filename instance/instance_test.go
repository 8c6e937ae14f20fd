package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"merchantbackend/store"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func TestCreateInstanceProvisionsKey(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t)
	svc := NewService(db, dir)

	inst, err := svc.Create(CreateParams{ID: "shop-1", Name: "Shop One"})
	require.NoError(t, err)
	require.NotEmpty(t, inst.SigningPublicKey)
	require.FileExists(t, inst.KeyfilePath)
}

func TestAddBankAccountRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t)
	svc := NewService(db, dir)

	_, err := svc.Create(CreateParams{ID: "shop-2"})
	require.NoError(t, err)

	_, err = svc.AddBankAccount("shop-2", "payto://iban/DE1234")
	require.NoError(t, err)
	_, err = svc.AddBankAccount("shop-2", "payto://iban/DE1234")
	require.ErrorIs(t, err, ErrDuplicatePaytoURI)
}

func TestLockProductPreventsOversell(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t)
	svc := NewService(db, dir)
	require.NoError(t, svc.CreateProduct(&store.Product{InstanceID: "shop-3", ProductID: "widget", Stocked: 1}))

	_, err := svc.LockProduct("shop-3", "widget", 1, time.Hour)
	require.NoError(t, err)
	_, err = svc.LockProduct("shop-3", "widget", 1, time.Hour)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}
