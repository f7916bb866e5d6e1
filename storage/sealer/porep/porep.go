package porep

import (
	"encoding/binary"
	"encoding/json"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/domain"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/snark"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

var log = logging.Logger("porep")

// PreCommit1Out identifies the cache PreCommit1 built and records the digest
// of every file in it.
type PreCommit1Out struct {
	SectorSize abi.SectorSize
	PoRepID    proofcfg.PoRepID
	APIVersion proofcfg.APIVersion

	SectorID   abi.SectorNumber
	Ticket     storiface.Ticket
	ReplicaID  domain.Node
	CommD      storiface.Commitment
	Pieces     []abi.PieceInfo
	StagedPath string

	Cache sectorcache.Record
}

func (o *PreCommit1Out) Marshal() (storiface.PreCommit1Out, error) {
	return json.Marshal(o)
}

func UnmarshalPreCommit1Out(b storiface.PreCommit1Out) (*PreCommit1Out, error) {
	var out PreCommit1Out
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, xerrors.Errorf("decoding precommit1 output: %w", err)
	}
	return &out, nil
}

type PreCommitOutput struct {
	CommR storiface.Commitment
	CommD storiface.Commitment
}

// SealProof is the concatenation of one snark proof per partition.
type SealProof []byte

// ReplicaID binds a replica to its prover, sector, ticket, data and porep
// configuration.
func ReplicaID(proverID storiface.ProverID, sectorID abi.SectorNumber, ticket storiface.Ticket, commD storiface.Commitment, porepID proofcfg.PoRepID) domain.Node {
	var sid [8]byte
	binary.LittleEndian.PutUint64(sid[:], uint64(sectorID))
	return domain.Sha256Trunc(proverID[:], sid[:], ticket[:], commD[:], porepID[:])
}

func checkConfig(cfg proofcfg.PoRepConfig, ss abi.SectorSize, id proofcfg.PoRepID, v proofcfg.APIVersion) error {
	if cfg.SectorSize != ss || cfg.PoRepID != id || cfg.APIVersion != v {
		return xerrors.Errorf("config (%s, %x, %s) does not match recorded (%s, %x, %s): %w",
			cfg.SectorSize.ShortString(), cfg.PoRepID[:8], cfg.APIVersion,
			ss.ShortString(), id[:8], v, storiface.ErrInvalidCache)
	}
	return nil
}

func backend() snark.Backend {
	return snark.Default()
}
