package sectorstate

import (
	"fmt"
	"io"

	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"
)

const (
	sectorInfoFields = 14

	maxBytesLen  = 1 << 24
	maxStringLen = 8192
	maxPieces    = 1 << 16
)

var lengthBufSectorInfo = []byte{128 + sectorInfoFields}

func writeBytes(cw *cbg.CborWriter, b []byte) error {
	if len(b) > maxBytesLen {
		return xerrors.Errorf("byte array of %d bytes is too long", len(b))
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajByteString, uint64(len(b))); err != nil {
		return err
	}
	_, err := cw.Write(b)
	return err
}

func writeString(cw *cbg.CborWriter, s string) error {
	if len(s) > maxStringLen {
		return xerrors.Errorf("string of %d bytes is too long", len(s))
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := cw.WriteString(s)
	return err
}

func readBytes(cr *cbg.CborReader) ([]byte, error) {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return nil, err
	}
	if maj != cbg.MajByteString {
		return nil, fmt.Errorf("expected byte array")
	}
	if extra > maxBytesLen {
		return nil, fmt.Errorf("byte array too large (%d)", extra)
	}
	if extra == 0 {
		return nil, nil
	}
	out := make([]byte, extra)
	if _, err := io.ReadFull(cr, out); err != nil {
		return nil, err
	}
	return out, nil
}

func read32(cr *cbg.CborReader, out *[32]byte) error {
	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajByteString {
		return fmt.Errorf("expected byte array")
	}
	if extra != 32 {
		return fmt.Errorf("expected array to have 32 elements")
	}
	_, err = io.ReadFull(cr, out[:])
	return err
}

// MarshalCBOR writes the record as a cbor tuple in field order. Err is cut to
// maxStringLen bytes.
func (t *SectorInfo) MarshalCBOR(w io.Writer) error {
	if t == nil {
		_, err := w.Write(cbg.CborNull)
		return err
	}

	cw := cbg.NewCborWriter(w)

	if _, err := cw.Write(lengthBufSectorInfo); err != nil {
		return err
	}

	if err := cw.WriteMajorTypeHeader(cbg.MajUnsignedInt, uint64(t.Number)); err != nil {
		return err
	}
	if err := writeString(cw, string(t.State)); err != nil {
		return xerrors.Errorf("t.State: %w", err)
	}
	if err := writeBytes(cw, t.Ticket[:]); err != nil {
		return err
	}
	if err := writeBytes(cw, t.Seed[:]); err != nil {
		return err
	}

	if len(t.Pieces) > maxPieces {
		return xerrors.Errorf("slice value in field t.Pieces was too long")
	}
	if err := cw.WriteMajorTypeHeader(cbg.MajArray, uint64(len(t.Pieces))); err != nil {
		return err
	}
	for i := range t.Pieces {
		if err := t.Pieces[i].MarshalCBOR(cw); err != nil {
			return err
		}
	}

	for _, b := range [][]byte{t.PreCommit1Out, t.CommD[:], t.CommR[:], t.Proof, t.CommRNew[:], t.CommDNew[:], t.UpdateProof} {
		if err := writeBytes(cw, b); err != nil {
			return err
		}
	}

	if err := writeString(cw, string(t.FailedIn)); err != nil {
		return xerrors.Errorf("t.FailedIn: %w", err)
	}
	errStr := t.Err
	if len(errStr) > maxStringLen {
		errStr = errStr[:maxStringLen]
	}
	if err := writeString(cw, errStr); err != nil {
		return xerrors.Errorf("t.Err: %w", err)
	}
	return nil
}

func (t *SectorInfo) UnmarshalCBOR(r io.Reader) (err error) {
	*t = SectorInfo{}

	cr := cbg.NewCborReader(r)

	maj, extra, err := cr.ReadHeader()
	if err != nil {
		return err
	}
	defer func() {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
	}()

	if maj != cbg.MajArray {
		return fmt.Errorf("cbor input should be of type array")
	}
	if extra != sectorInfoFields {
		return fmt.Errorf("cbor input had wrong number of fields")
	}

	maj, extra, err = cr.ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt {
		return fmt.Errorf("wrong type for uint64 field")
	}
	t.Number = abi.SectorNumber(extra)

	state, err := cbg.ReadStringWithMax(cr, maxStringLen)
	if err != nil {
		return err
	}
	t.State = SectorState(state)

	if err := read32(cr, (*[32]byte)(&t.Ticket)); err != nil {
		return xerrors.Errorf("t.Ticket: %w", err)
	}
	if err := read32(cr, (*[32]byte)(&t.Seed)); err != nil {
		return xerrors.Errorf("t.Seed: %w", err)
	}

	maj, extra, err = cr.ReadHeader()
	if err != nil {
		return err
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("expected cbor array")
	}
	if extra > maxPieces {
		return fmt.Errorf("t.Pieces: array too large (%d)", extra)
	}
	if extra > 0 {
		t.Pieces = make([]abi.PieceInfo, extra)
	}
	for i := range t.Pieces {
		if err := t.Pieces[i].UnmarshalCBOR(cr); err != nil {
			return xerrors.Errorf("unmarshaling t.Pieces[%d]: %w", i, err)
		}
	}

	if t.PreCommit1Out, err = readBytes(cr); err != nil {
		return xerrors.Errorf("t.PreCommit1Out: %w", err)
	}
	if err := read32(cr, (*[32]byte)(&t.CommD)); err != nil {
		return xerrors.Errorf("t.CommD: %w", err)
	}
	if err := read32(cr, (*[32]byte)(&t.CommR)); err != nil {
		return xerrors.Errorf("t.CommR: %w", err)
	}
	if t.Proof, err = readBytes(cr); err != nil {
		return xerrors.Errorf("t.Proof: %w", err)
	}
	if err := read32(cr, (*[32]byte)(&t.CommRNew)); err != nil {
		return xerrors.Errorf("t.CommRNew: %w", err)
	}
	if err := read32(cr, (*[32]byte)(&t.CommDNew)); err != nil {
		return xerrors.Errorf("t.CommDNew: %w", err)
	}
	if t.UpdateProof, err = readBytes(cr); err != nil {
		return xerrors.Errorf("t.UpdateProof: %w", err)
	}

	failedIn, err := cbg.ReadStringWithMax(cr, maxStringLen)
	if err != nil {
		return err
	}
	t.FailedIn = SectorState(failedIn)

	if t.Err, err = cbg.ReadStringWithMax(cr, maxStringLen); err != nil {
		return err
	}
	return nil
}

var _ cbg.CBORMarshaler = (*SectorInfo)(nil)
var _ cbg.CBORUnmarshaler = (*SectorInfo)(nil)
