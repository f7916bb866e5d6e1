package sectorcache

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/sha256-simd"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// Digest is the sha256 of a cache file's content.
type Digest [32]byte

func BytesDigest(b []byte) Digest {
	return sha256.Sum256(b)
}

func FileDigest(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, storiface.NewIoError("open", path, err)
	}
	defer f.Close() // nolint

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, storiface.NewIoError("read", path, err)
	}

	var d Digest
	h.Sum(d[:0])
	return d, nil
}

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(b []byte) error {
	if hex.DecodedLen(len(b)) != len(d) {
		return xerrors.Errorf("digest must be %d hex characters, got %d", hex.EncodedLen(len(d)), len(b))
	}
	_, err := hex.Decode(d[:], b)
	return err
}

// Record is what PreCommit1 leaves behind in a cache: enough to check the
// cache without re-deriving it.
type Record struct {
	SectorSize abi.SectorSize
	// Layers holds the digest of layer l at index l-1.
	Layers []Digest
	TreeD  Digest
}

// PAux holds the two roots bound by CommR.
type PAux struct {
	CommC     domain.Node
	CommRLast domain.Node
}

func ReadPAux(cacheDir string) (PAux, error) {
	path := filepath.Join(cacheDir, proofpaths.PAuxFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return PAux{}, xerrors.Errorf("%s: %w", path, storiface.ErrInvalidCache)
		}
		return PAux{}, storiface.NewIoError("read", path, err)
	}
	if len(b) != 2*domain.NodeSize {
		return PAux{}, xerrors.Errorf("%s is %d bytes, expected %d: %w", path, len(b), 2*domain.NodeSize, storiface.ErrInvalidCache)
	}

	var out PAux
	copy(out.CommC[:], b[:domain.NodeSize])
	copy(out.CommRLast[:], b[domain.NodeSize:])
	return out, nil
}

func WritePAux(cacheDir string, p PAux) error {
	b := make([]byte, 0, 2*domain.NodeSize)
	b = append(b, p.CommC[:]...)
	b = append(b, p.CommRLast[:]...)
	return fsutil.WriteBytes(filepath.Join(cacheDir, proofpaths.PAuxFileName), b)
}

// TAux describes how the cache was built.
type TAux struct {
	SectorSize abi.SectorSize
	Shape      string
	Layers     []Digest
	TreeD      Digest

	Ticket    storiface.Ticket
	ReplicaID domain.Node
	CommD     domain.Node

	// Seed is set by the first commit phase 1 run against the cache.
	Seed *storiface.Seed `json:",omitempty"`
}

func ReadTAux(cacheDir string) (TAux, error) {
	path := filepath.Join(cacheDir, proofpaths.TAuxFileName)
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return TAux{}, xerrors.Errorf("%s: %w", path, storiface.ErrInvalidCache)
		}
		return TAux{}, storiface.NewIoError("read", path, err)
	}

	var out TAux
	if err := json.Unmarshal(b, &out); err != nil {
		return TAux{}, xerrors.Errorf("decoding %s: %s: %w", path, err, storiface.ErrInvalidCache)
	}
	return out, nil
}

func WriteTAux(cacheDir string, t TAux) error {
	b, err := json.Marshal(&t)
	if err != nil {
		return xerrors.Errorf("encoding t_aux: %w", err)
	}
	return fsutil.WriteBytes(filepath.Join(cacheDir, proofpaths.TAuxFileName), b)
}
