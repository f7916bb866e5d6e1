package domain

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"
)

// NodeSize is the size of a merkle node / field element on disk.
const NodeSize = 32

// Node is a little-endian BLS12-381 scalar field element, the unit every
// tree, layer and replica is made of.
type Node [NodeSize]byte

var ErrNotCanonical = xerrors.New("node is not a canonical field element")

// FromBytes copies a node out of b, which must be at least NodeSize long.
func FromBytes(b []byte) (Node, error) {
	var n Node
	if len(b) < NodeSize {
		return n, xerrors.Errorf("need %d bytes for a node, got %d", NodeSize, len(b))
	}
	copy(n[:], b[:NodeSize])
	return n, nil
}

// At reads the i-th node of a node array.
func At(b []byte, i uint64) Node {
	var n Node
	copy(n[:], b[i*NodeSize:(i+1)*NodeSize])
	return n
}

// Put writes n as the i-th node of a node array.
func Put(b []byte, i uint64, n Node) {
	copy(b[i*NodeSize:(i+1)*NodeSize], n[:])
}

// FromUint64 encodes v as a field element.
func FromUint64(v uint64) Node {
	var n Node
	binary.LittleEndian.PutUint64(n[:8], v)
	return n
}

func (n Node) Fr() (fr.Element, error) {
	b := [NodeSize]byte(n)
	e, err := fr.LittleEndian.Element(&b)
	if err != nil {
		return fr.Element{}, xerrors.Errorf("%s: %w", n, ErrNotCanonical)
	}
	return e, nil
}

func FromFr(e *fr.Element) Node {
	var b [NodeSize]byte
	fr.LittleEndian.PutElement(&b, *e)
	return Node(b)
}

func (n Node) IsZero() bool {
	return n == Node{}
}

func (n Node) String() string {
	return hex.EncodeToString(n[:])
}

func (n Node) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(NodeSize))
	hex.Encode(out, n[:])
	return out, nil
}

func (n *Node) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != NodeSize {
		return xerrors.Errorf("expected %d hex characters, got %d", hex.EncodedLen(NodeSize), len(b))
	}
	_, err := hex.Decode(n[:], b)
	return err
}

// Sha256Trunc hashes the concatenation of parts and truncates the digest to
// 254 bits so that it is always a canonical field element.
func Sha256Trunc(parts ...[]byte) Node {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out Node
	h.Sum(out[:0])
	out[31] &= 0x3f
	return out
}
