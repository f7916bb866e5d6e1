package domain

import (
	"crypto/sha256"
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/stretchr/testify/require"
)

func randomNode(rng *rand.Rand) Node {
	var n Node
	rng.Read(n[:])
	n[31] &= 0x3f
	return n
}

func TestSha256Trunc(t *testing.T) {
	want := sha256.Sum256([]byte("hello world"))
	want[31] &= 0x3f

	got := Sha256Trunc([]byte("hello "), []byte("world"))
	require.Equal(t, Node(want), got)

	_, err := got.Fr()
	require.NoError(t, err)
}

func TestEncodeDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 100; i++ {
		key, data := randomNode(rng), randomNode(rng)

		enc, err := Encode(key, data)
		require.NoError(t, err)

		dec, err := Decode(key, enc)
		require.NoError(t, err)
		require.Equal(t, data, dec)
	}
}

func TestScaledEncoding(t *testing.T) {
	rng := rand.New(rand.NewSource(8))

	var rho, rhoInv fr.Element
	rho.SetUint64(0xdeadbeef)
	rhoInv.Inverse(&rho)

	for i := 0; i < 100; i++ {
		key, data := randomNode(rng), randomNode(rng)

		enc, err := EncodeScaled(key, data, &rho)
		require.NoError(t, err)

		dec, err := DecodeScaled(key, enc, &rhoInv)
		require.NoError(t, err)
		require.Equal(t, data, dec)

		k, err := RemoveScaled(enc, data, &rho)
		require.NoError(t, err)
		require.Equal(t, key, k)
	}
}

func TestNonCanonical(t *testing.T) {
	var n Node
	for i := range n {
		n[i] = 0xff
	}
	_, err := n.Fr()
	require.ErrorIs(t, err, ErrNotCanonical)

	_, err = Encode(n, Node{})
	require.Error(t, err)
}

func TestNodeHelpers(t *testing.T) {
	buf := make([]byte, 4*NodeSize)
	Put(buf, 2, FromUint64(99))
	require.Equal(t, FromUint64(99), At(buf, 2))
	require.True(t, At(buf, 1).IsZero())

	_, err := FromBytes(buf[:10])
	require.Error(t, err)

	b, err := json.Marshal(FromUint64(1))
	require.NoError(t, err)

	var back Node
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, FromUint64(1), back)
}
