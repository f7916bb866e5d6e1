package storiface

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/go-state-types/abi"
)

func TestToProverID(t *testing.T) {
	pid, err := ToProverID(1000)
	require.NoError(t, err)

	// id address payloads are the uvarint of the actor id
	require.Equal(t, byte(0xe8), pid[0])
	require.Equal(t, byte(0x07), pid[1])
	for _, b := range pid[2:] {
		require.Zero(t, b)
	}
}

func TestCommitmentCids(t *testing.T) {
	var c Commitment
	for i := range c {
		c[i] = byte(i)
	}
	c[31] &= 0x3f

	cids, err := ToCids(c, c)
	require.NoError(t, err)
	require.NotEqual(t, cids.Sealed, cids.Unsealed)

	d, err := DataCommitment(cids.Unsealed)
	require.NoError(t, err)
	require.Equal(t, c, d)

	r, err := ReplicaCommitment(cids.Sealed)
	require.NoError(t, err)
	require.Equal(t, c, r)

	_, err = ReplicaCommitment(cids.Unsealed)
	require.Error(t, err)
}

func TestRandomnessConversion(t *testing.T) {
	_, err := TicketFromRandomness(abi.SealRandomness{1, 2, 3})
	require.Error(t, err)

	r := make(abi.InteractiveSealRandomness, 32)
	r[5] = 9
	s, err := SeedFromRandomness(r)
	require.NoError(t, err)
	require.Equal(t, byte(9), s[5])
}

func TestHexText(t *testing.T) {
	type rec struct {
		Ticket Ticket
		CommD  Commitment
	}
	in := rec{Ticket: Ticket{1, 2, 3}, CommD: Commitment{0xff}}

	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.Contains(t, string(b), `"ff00`)

	var out rec
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in, out)

	require.Error(t, json.Unmarshal([]byte(`{"Ticket":"abcd"}`), &out))
}
