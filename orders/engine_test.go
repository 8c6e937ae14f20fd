package orders

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"merchantbackend/crypto"
	"merchantbackend/store"
)

type fixedKeys struct{ priv *crypto.PrivateKey }

func (f fixedKeys) PrivateKeyFor(instanceID string) (*crypto.PrivateKey, error) { return f.priv, nil }

type staticTrust struct{}

func (staticTrust) TrustedExchanges(instanceID string) []TrustedExchange {
	return []TrustedExchange{{URL: "https://exchange.example", MasterPub: "MPUB"}}
}
func (staticTrust) Auditors(instanceID string) []Auditor {
	return []Auditor{{Name: "auditor-a", URL: "https://auditor.example", Pub: "APUB"}}
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func newEngine(t *testing.T) (*Engine, *crypto.PrivateKey) {
	priv, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	db := openDB(t)
	return NewEngine(db, fixedKeys{priv: priv}, staticTrust{}), priv
}

func TestCreateProposalIdempotent(t *testing.T) {
	e, _ := newEngine(t)
	p := Proposal{Amount: "KUDOS:10", PayDeadline: time.Now().Add(time.Hour)}

	_, err := e.CreateProposal("shop", "order-1", p)
	require.NoError(t, err)

	_, err = e.CreateProposal("shop", "order-1", p)
	require.ErrorIs(t, err, ErrProposalUnchanged)

	p2 := p
	p2.Amount = "KUDOS:11"
	_, err = e.CreateProposal("shop", "order-1", p2)
	require.ErrorIs(t, err, ErrProposalConflict)
}

func TestClaimSignsFullyPopulatedContract(t *testing.T) {
	e, priv := newEngine(t)
	p := Proposal{Amount: "KUDOS:10", MaxFee: "KUDOS:1", PayDeadline: time.Now().Add(time.Hour)}
	_, err := e.CreateProposal("shop", "order-2", p)
	require.NoError(t, err)

	rec, terms, err := e.Claim("shop", "order-2", "nonce-1", "HWIRE")
	require.NoError(t, err)
	require.Equal(t, "KUDOS:1", terms.MaxFee)
	require.Equal(t, "KUDOS:10", terms.Amount)
	require.NotEmpty(t, terms.HWire)
	require.NotEmpty(t, terms.Nonce)
	require.Equal(t, priv.Public().String(), terms.MerchantPub)

	// The signature must cover the fully populated contract (including
	// max_fee), not a partially populated struct signed before max_fee
	// was filled in.
	canon, err := crypto.CanonicalJSON(terms)
	require.NoError(t, err)
	hash := crypto.Hash256(canon)
	sigBytes, err := crypto.DecodeBinary(rec.MerchantSig)
	require.NoError(t, err)
	require.True(t, priv.Public().Verify(crypto.PurposeContract, hash, sigBytes))
}

func TestClaimIsIdempotentForSameNonce(t *testing.T) {
	e, _ := newEngine(t)
	p := Proposal{Amount: "KUDOS:10", PayDeadline: time.Now().Add(time.Hour)}
	_, err := e.CreateProposal("shop", "order-3", p)
	require.NoError(t, err)

	_, terms1, err := e.Claim("shop", "order-3", "nonce-a", "HWIRE")
	require.NoError(t, err)
	_, terms2, err := e.Claim("shop", "order-3", "nonce-a", "HWIRE")
	require.NoError(t, err)
	require.Equal(t, terms1.Nonce, terms2.Nonce)

	_, _, err = e.Claim("shop", "order-3", "nonce-b", "HWIRE")
	require.ErrorIs(t, err, ErrClaimNonceMismatch)
}
