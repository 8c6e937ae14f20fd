package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAmountParseAndString(t *testing.T) {
	a, err := ParseAmount("KUDOS:10.5")
	require.NoError(t, err)
	require.Equal(t, "KUDOS", a.Currency)
	require.Equal(t, uint64(10), a.Value)
	require.Equal(t, uint32(50000000), a.Fraction)
	require.Equal(t, "KUDOS:10.5", a.String())
}

func TestAmountAddSub(t *testing.T) {
	a, _ := ParseAmount("KUDOS:9.99")
	b, _ := ParseAmount("KUDOS:0.01")
	sum, err := a.Add(b)
	require.NoError(t, err)
	require.Equal(t, "KUDOS:10", sum.String())

	diff, err := sum.Sub(b)
	require.NoError(t, err)
	require.Equal(t, "KUDOS:9.99", diff.String())
}

func TestAmountSubUnderflow(t *testing.T) {
	a, _ := ParseAmount("KUDOS:1")
	b, _ := ParseAmount("KUDOS:2")
	_, err := a.Sub(b)
	require.ErrorIs(t, err, ErrAmountUnderflow)
}

func TestAmountCurrencyMismatch(t *testing.T) {
	a, _ := ParseAmount("KUDOS:1")
	b, _ := ParseAmount("USD:1")
	_, err := a.Add(b)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestAmountCmp(t *testing.T) {
	a, _ := ParseAmount("KUDOS:1")
	b, _ := ParseAmount("KUDOS:2")
	require.Equal(t, -1, a.Cmp(b))
	require.Equal(t, 1, b.Cmp(a))
	require.Equal(t, 0, a.Cmp(a))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := []byte("contract terms hash")
	sig := priv.Sign(PurposeContract, payload)
	require.True(t, pub.Verify(PurposeContract, payload, sig))
	require.False(t, pub.Verify(PurposeDepositConfirm, payload, sig))
	require.False(t, pub.Verify(PurposeContract, []byte("tampered"), sig))
}

func TestHashStructStable(t *testing.T) {
	type terms struct {
		Amount string `json:"amount"`
		Order  string `json:"order_id"`
	}
	h1, err := HashStruct(terms{Amount: "KUDOS:10", Order: "2024-0001"})
	require.NoError(t, err)
	h2, err := HashStruct(terms{Amount: "KUDOS:10", Order: "2024-0001"})
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	h3, err := HashStruct(terms{Amount: "KUDOS:11", Order: "2024-0001"})
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestBase32RoundTrip(t *testing.T) {
	_, pub, err := GenerateKeyPair()
	require.NoError(t, err)
	encoded := EncodeBinary(pub.Bytes())
	decoded, err := DecodeBinary(encoded)
	require.NoError(t, err)
	require.Equal(t, pub.Bytes(), decoded)
}
