package porep

import (
	"context"
	"io"
	"math/bits"

	"github.com/ipfs/go-cid"
	"golang.org/x/xerrors"

	commp "github.com/filecoin-project/go-commp-utils/v2"
	"github.com/filecoin-project/go-commp-utils/v2/zerocomm"
	"github.com/filecoin-project/go-padreader"
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/fr32"
	"github.com/filecoin-project/sector-proofs/storage/sealer/fsutil"
	"github.com/filecoin-project/sector-proofs/storage/sealer/merkle"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// RequiredPadding returns the zero pieces that must precede a piece of
// newPieceLength written at oldLength so that it is aligned to its size.
func RequiredPadding(oldLength abi.PaddedPieceSize, newPieceLength abi.PaddedPieceSize) ([]abi.PaddedPieceSize, abi.PaddedPieceSize) {
	padPieces := make([]abi.PaddedPieceSize, 0)

	toFill := uint64(-oldLength % newPieceLength)

	n := bits.OnesCount64(toFill)
	var sum abi.PaddedPieceSize
	for i := 0; i < n; i++ {
		next := bits.TrailingZeros64(toFill)
		psize := uint64(1) << uint(next)
		toFill ^= psize

		padded := abi.PaddedPieceSize(psize)
		padPieces = append(padPieces, padded)
		sum += padded
	}

	return padPieces, sum
}

// ZeroPieces describes zero pieces of the given sizes.
func ZeroPieces(sizes []abi.PaddedPieceSize) []abi.PieceInfo {
	out := make([]abi.PieceInfo, len(sizes))
	for i, s := range sizes {
		out[i] = abi.PieceInfo{Size: s, PieceCID: zerocomm.ZeroPieceCommitment(s.Unpadded())}
	}
	return out
}

// FillerPieces returns the zero pieces that fill a sector holding pieces up to
// its full size.
func FillerPieces(ss abi.SectorSize, pieces []abi.PieceInfo) []abi.PieceInfo {
	var sum abi.PaddedPieceSize
	for _, p := range pieces {
		sum += p.Size
	}
	var out []abi.PaddedPieceSize
	for rem := uint64(abi.PaddedPieceSize(ss) - sum); rem > 0; {
		next := uint64(1) << uint(bits.TrailingZeros64(rem))
		out = append(out, abi.PaddedPieceSize(next))
		rem ^= next
	}
	return ZeroPieces(out)
}

// AddPiece writes any alignment padding and the fr32 padded piece to staged,
// returning the piece's commitment.
func AddPiece(ctx context.Context, ss abi.SectorSize, existing []abi.UnpaddedPieceSize, r io.Reader, size abi.UnpaddedPieceSize, staged io.Writer) (abi.PieceInfo, error) {
	if err := size.Validate(); err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("piece size: %s: %w", err, storiface.ErrInvalidPieceLayout)
	}

	var offset abi.UnpaddedPieceSize
	for _, s := range existing {
		offset += s
	}

	pads, padLength := RequiredPadding(offset.Padded(), size.Padded())
	if offset.Padded()+padLength+size.Padded() > abi.PaddedPieceSize(ss) {
		return abi.PieceInfo{}, xerrors.Errorf("can't add %d byte piece to sector %v with %d bytes of existing pieces: %w", size, ss, offset, storiface.ErrInvalidPieceLayout)
	}

	if padLength > 0 {
		log.Debugw("writing piece alignment padding", "pieces", pads, "bytes", padLength)
		if _, err := staged.Write(make([]byte, padLength)); err != nil {
			return abi.PieceInfo{}, storiface.NewIoError("write", "staged", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return abi.PieceInfo{}, err
	}

	pr, psize := padreader.New(r, uint64(size))
	if psize != size {
		return abi.PieceInfo{}, xerrors.Errorf("piece size %d is not a valid unpadded size (padreader gave %d): %w", size, psize, storiface.ErrInvalidPieceLayout)
	}

	fpr, err := fr32.NewPadReader(pr, size)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	padded := make([]byte, size.Padded())
	if _, err := io.ReadFull(fpr, padded); err != nil {
		return abi.PieceInfo{}, xerrors.Errorf("reading piece data: %w", err)
	}

	if _, err := staged.Write(padded); err != nil {
		return abi.PieceInfo{}, storiface.NewIoError("write", "staged", err)
	}

	c, err := pieceCommitment(padded)
	if err != nil {
		return abi.PieceInfo{}, err
	}

	return abi.PieceInfo{Size: size.Padded(), PieceCID: c}, nil
}

func pieceCommitment(padded []byte) (cid.Cid, error) {
	root, err := merkle.BuildTo(merkle.Sha256, 2, padded, io.Discard, false)
	if err != nil {
		return cid.Undef, xerrors.Errorf("computing piece commitment: %w", err)
	}
	return storiface.Commitment(root).UnsealedCID()
}

// GenerateDataCommitment computes CommD from the piece infos alone.
func GenerateDataCommitment(ss abi.SectorSize, pieces []abi.PieceInfo) (storiface.Commitment, error) {
	upssize := abi.PaddedPieceSize(ss).Unpadded()
	if len(pieces) == 0 {
		return storiface.DataCommitment(zerocomm.ZeroPieceCommitment(upssize))
	}

	spt, err := proofcfg.CommPProof(ss)
	if err != nil {
		return storiface.Commitment{}, err
	}

	pcid, psz, err := commp.PieceAggregateCommP(spt, pieces)
	if err != nil {
		return storiface.Commitment{}, xerrors.Errorf("aggregating piece commitments: %w", err)
	}
	if psz > abi.PaddedPieceSize(ss) {
		return storiface.Commitment{}, xerrors.Errorf("pieces take %d bytes, sector has %d: %w", psz, ss, storiface.ErrInvalidPieceLayout)
	}

	padded, err := commp.ZeroPadPieceCommitment(pcid, psz.Unpadded(), upssize)
	if err != nil {
		return storiface.Commitment{}, xerrors.Errorf("padding piece commitment: %w", err)
	}
	return storiface.DataCommitment(padded)
}

// ComputeCommD builds the data tree over the staged file.
func ComputeCommD(cfg proofcfg.PoRepConfig, stagedPath string) (storiface.Commitment, error) {
	f, err := fsutil.OpenMapped(stagedPath)
	if err != nil {
		return storiface.Commitment{}, err
	}
	defer f.Close() // nolint

	data := f.Bytes()
	if uint64(len(data)) < uint64(cfg.SectorSize) {
		return storiface.Commitment{}, storiface.NewIoError("read", stagedPath, xerrors.Errorf("staged file is %d bytes, sector is %d", len(data), cfg.SectorSize))
	}

	root, err := merkle.BuildTo(merkle.Sha256, 2, data[:cfg.SectorSize], io.Discard, false)
	if err != nil {
		return storiface.Commitment{}, err
	}
	return storiface.Commitment(root), nil
}

// checkPieceLayout requires the pieces to be aligned and to fill the sector.
func checkPieceLayout(ss abi.SectorSize, pieces []abi.PieceInfo) error {
	var offset abi.PaddedPieceSize
	for i, p := range pieces {
		if err := p.Size.Validate(); err != nil {
			return xerrors.Errorf("piece %d: %s: %w", i, err, storiface.ErrInvalidPieceLayout)
		}
		if offset%p.Size != 0 {
			return xerrors.Errorf("piece %d of %d bytes is not aligned at offset %d: %w", i, p.Size, offset, storiface.ErrInvalidPieceLayout)
		}
		offset += p.Size
	}
	if offset != abi.PaddedPieceSize(ss) {
		return xerrors.Errorf("aggregated piece sizes don't match sector size: %d != %d (%d): %w", offset, ss, int64(ss)-int64(offset), storiface.ErrInvalidPieceLayout)
	}
	return nil
}
