package fr32_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filecoin-project/sector-proofs/storage/sealer/fr32"
)

// bitPad is a slow bit-by-bit reference: 254 data bits per 256 bit element.
func bitPad(in []byte) []byte {
	out := make([]byte, len(in)/127*128)
	inBits := len(in) * 8
	outBit := 0
	for i := 0; i < inBits; i++ {
		if outBit%256 == 254 {
			outBit += 2
		}
		if in[i/8]&(1<<(i%8)) != 0 {
			out[outBit/8] |= 1 << (outBit % 8)
		}
		outBit++
	}
	return out
}

func TestPadMatchesBitReference(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, chunks := range []int{1, 2, 7, 16} {
		raw := make([]byte, 127*chunks)
		rng.Read(raw)

		padded := make([]byte, 128*chunks)
		fr32.Pad(raw, padded)
		require.Equal(t, bitPad(raw), padded)

		for i := 31; i < len(padded); i += 32 {
			require.Zero(t, padded[i]&0xc0, "top bits set in element %d", i/32)
		}

		unpadded := make([]byte, len(raw))
		fr32.Unpad(padded, unpadded)
		require.Equal(t, raw, unpadded)
	}
}

func TestPadAllOnes(t *testing.T) {
	raw := bytes.Repeat([]byte{0xff}, 127)
	padded := make([]byte, 128)
	fr32.Pad(raw, padded)

	for i := 0; i < 4; i++ {
		elem := padded[i*32 : (i+1)*32]
		require.Equal(t, bytes.Repeat([]byte{0xff}, 31), elem[:31])
		require.Equal(t, byte(0x3f), elem[31])
	}
}
