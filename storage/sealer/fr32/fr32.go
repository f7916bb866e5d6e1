package fr32

// Every 127 bytes of user data are spread over four 254 bit field elements,
// each stored in 32 bytes with the top two bits cleared.

const (
	unpaddedChunk = 127
	paddedChunk   = 128
)

// Pad expands in into out. len(in) must be a multiple of 127 and out must
// hold len(in)/127*128 bytes.
func Pad(in, out []byte) {
	chunks := len(out) / paddedChunk
	for chunk := 0; chunk < chunks; chunk++ {
		inOff := chunk * unpaddedChunk
		outOff := chunk * paddedChunk
		pad(in[inOff:inOff+unpaddedChunk], out[outOff:outOff+paddedChunk])
	}
}

func pad(in, out []byte) {
	copy(out[:31], in[:31])

	t := in[31] >> 6
	out[31] = in[31] & 0x3f
	var v byte

	for i := 32; i < 64; i++ {
		v = in[i]
		out[i] = (v << 2) | t
		t = v >> 6
	}

	t = v >> 4
	out[63] &= 0x3f

	for i := 64; i < 96; i++ {
		v = in[i]
		out[i] = (v << 4) | t
		t = v >> 4
	}

	t = v >> 2
	out[95] &= 0x3f

	for i := 96; i < 127; i++ {
		v = in[i]
		out[i] = (v << 6) | t
		t = v >> 2
	}

	out[127] = t & 0x3f
}

// Unpad is the inverse of Pad. len(in) must be a multiple of 128 and out must
// hold len(in)/128*127 bytes.
func Unpad(in []byte, out []byte) {
	chunks := len(in) / paddedChunk
	for chunk := 0; chunk < chunks; chunk++ {
		inOff := chunk * paddedChunk
		outOff := chunk * unpaddedChunk
		unpad(in[inOff:inOff+paddedChunk], out[outOff:outOff+unpaddedChunk])
	}
}

func unpad(in, out []byte) {
	copy(out[:31], in[:31])
	out[31] = (in[31] & 0x3f) | in[32]<<6

	for i := 32; i < 63; i++ {
		out[i] = in[i]>>2 | in[i+1]<<6
	}
	out[63] = (in[63]&0x3f)>>2 | in[64]<<4

	for i := 64; i < 95; i++ {
		out[i] = in[i]>>4 | in[i+1]<<4
	}
	out[95] = (in[95]&0x3f)>>4 | in[96]<<2

	for i := 96; i < 127; i++ {
		out[i] = in[i]>>6 | in[i+1]<<2
	}
}
