package post

import (
	"encoding/json"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/challenges"
	"github.com/filecoin-project/sector-proofs/storage/sealer/commr"
	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("post")

// SectorInfo is what a verifier knows about a proven sector.
type SectorInfo struct {
	SectorNumber abi.SectorNumber
	CommR        storiface.Commitment
}

// PrivateSectorInfo adds the on-disk location of the replica.
type PrivateSectorInfo struct {
	SectorInfo
	CacheDir   string
	SealedPath string
}

// VanillaProof opens one sector's replica tree at its challenges.
type VanillaProof struct {
	SectorNumber abi.SectorNumber
	Challenges   []uint64

	CommC      domain.Node
	CommRLast  domain.Node
	Inclusions []*merkle.Proof
}

func (v *VanillaProof) Marshal() ([]byte, error) {
	return json.Marshal(v)
}

func UnmarshalVanillaProof(b []byte) (*VanillaProof, error) {
	var out VanillaProof
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, xerrors.Errorf("decoding vanilla proof: %w", err)
	}
	return &out, nil
}

// GenerateFallbackSectorChallenges derives the challenged leaves of every
// sector.
func GenerateFallbackSectorChallenges(cfg proofcfg.PoStConfig, randomness abi.PoStRandomness, sectors []abi.SectorNumber) (map[abi.SectorNumber][]uint64, error) {
	r, err := challengeSeed(randomness)
	if err != nil {
		return nil, err
	}
	return challenges.FallbackSectorChallenges(cfg, r, sectors)
}

// GenerateSingleVanillaProof opens the replica at chs. Files are only ever
// mapped read-only.
func GenerateSingleVanillaProof(cfg proofcfg.PoStConfig, replica PrivateSectorInfo, chs []uint64) (*VanillaProof, error) {
	paux, err := sectorcache.ReadPAux(replica.CacheDir)
	if err != nil {
		return nil, err
	}
	commR, err := commr.CommR(paux.CommC, paux.CommRLast)
	if err != nil {
		return nil, err
	}
	if storiface.Commitment(commR) != replica.CommR {
		return nil, xerrors.Errorf("comm_r from p_aux %s does not match %s: %w", storiface.Commitment(commR), replica.CommR, storiface.ErrInvalidCache)
	}

	sealed, err := fsutil.OpenMappedSize(replica.SealedPath, int64(cfg.SectorSize))
	if err != nil {
		return nil, err
	}
	defer sealed.Close() // nolint

	names := proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees())
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(replica.CacheDir, n)
	}

	tree, err := merkle.OpenCompound(merkle.Poseidon, cfg.Shape, paths, cfg.Nodes(), sealed.Bytes())
	if err != nil {
		return nil, xerrors.Errorf("opening tree-r-last: %w", err)
	}
	defer tree.Close() // nolint

	if tree.Root() != paux.CommRLast {
		return nil, xerrors.Errorf("tree-r-last root %s does not match p_aux %s: %w", tree.Root(), paux.CommRLast, storiface.ErrInvalidCache)
	}

	out := &VanillaProof{
		SectorNumber: replica.SectorNumber,
		Challenges:   append([]uint64(nil), chs...),
		CommC:        paux.CommC,
		CommRLast:    paux.CommRLast,
		Inclusions:   make([]*merkle.Proof, len(chs)),
	}
	for i, c := range chs {
		if out.Inclusions[i], err = tree.Proof(c); err != nil {
			return nil, xerrors.Errorf("challenge %d: %w", c, err)
		}

		// leaves come from the replica, upper levels from the cache; a
		// corrupted replica only shows up here
		ok, err := out.Inclusions[i].VerifyAt(merkle.Poseidon, c)
		if err != nil {
			return nil, xerrors.Errorf("challenge %d: replica leaf: %s: %w", c, err, storiface.ErrInvalidCache)
		}
		if !ok || out.Inclusions[i].Root != paux.CommRLast {
			return nil, xerrors.Errorf("challenge %d: replica leaf does not open against tree-r-last: %w", c, storiface.ErrInvalidCache)
		}
	}
	return out, nil
}

// challengeSeed fits post randomness into a field element the same way the
// proofs ffi does.
func challengeSeed(randomness abi.PoStRandomness) ([32]byte, error) {
	var out [32]byte
	if len(randomness) != len(out) {
		return out, xerrors.Errorf("post randomness must be %d bytes, got %d", len(out), len(randomness))
	}
	copy(out[:], randomness)
	out[31] &= 0x3f
	return out, nil
}
