package sectorstate

import (
	"bytes"
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	levelds "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	ldbopts "github.com/syndtr/goleveldb/leveldb/opt"
	"golang.org/x/xerrors"

	cborutil "github.com/filecoin-project/go-cbor-util"
	"github.com/filecoin-project/go-state-types/abi"
)

var log = logging.Logger("sectorstate")

var sectorsKey = datastore.NewKey("/sectors")

var ErrNotFound = xerrors.New("sector not tracked")

// Store persists SectorInfo records keyed by sector number.
type Store struct {
	ds datastore.Datastore

	lk sync.Mutex
}

func New(ds datastore.Datastore) *Store {
	return &Store{ds: namespace.Wrap(ds, sectorsKey)}
}

// OpenLevelDB opens a store backed by a leveldb directory.
func OpenLevelDB(path string) (*Store, func() error, error) {
	ds, err := levelds.NewDatastore(path, &levelds.Options{
		Compression: ldbopts.NoCompression,
		NoSync:      false,
		Strict:      ldbopts.StrictAll,
		ReadOnly:    false,
	})
	if err != nil {
		return nil, nil, xerrors.Errorf("open leveldb: %w", err)
	}
	return New(ds), ds.Close, nil
}

func toKey(n abi.SectorNumber) datastore.Key {
	return datastore.NewKey(strconv.FormatUint(uint64(n), 10))
}

func (st *Store) Begin(ctx context.Context, n abi.SectorNumber, pieces []abi.PieceInfo) error {
	st.lk.Lock()
	defer st.lk.Unlock()

	k := toKey(n)
	has, err := st.ds.Has(ctx, k)
	if err != nil {
		return err
	}
	if has {
		return xerrors.Errorf("already tracking state for sector %d", n)
	}
	return st.put(ctx, &SectorInfo{Number: n, State: Created, Pieces: pieces})
}

func (st *Store) put(ctx context.Context, si *SectorInfo) error {
	b, err := cborutil.Dump(si)
	if err != nil {
		return err
	}
	return st.ds.Put(ctx, toKey(si.Number), b)
}

func (st *Store) Get(ctx context.Context, n abi.SectorNumber) (*SectorInfo, error) {
	val, err := st.ds.Get(ctx, toKey(n))
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil, xerrors.Errorf("sector %d: %w", n, ErrNotFound)
		}
		return nil, err
	}

	var si SectorInfo
	if err := cborutil.ReadCborRPC(bytes.NewReader(val), &si); err != nil {
		return nil, xerrors.Errorf("decoding state for sector %d: %w", n, err)
	}
	return &si, nil
}

// Send plans ev against the stored record and persists the result.
func (st *Store) Send(ctx context.Context, n abi.SectorNumber, ev Event) (*SectorInfo, error) {
	st.lk.Lock()
	defer st.lk.Unlock()

	si, err := st.Get(ctx, n)
	if err != nil {
		return nil, err
	}

	from := si.State
	if err := Plan(si, ev); err != nil {
		return nil, err
	}
	if err := st.put(ctx, si); err != nil {
		return nil, xerrors.Errorf("persisting sector %d: %w", n, err)
	}

	log.Debugw("sector state", "sector", n, "from", from, "to", si.State)
	return si, nil
}

func (st *Store) Remove(ctx context.Context, n abi.SectorNumber) error {
	st.lk.Lock()
	defer st.lk.Unlock()

	k := toKey(n)
	has, err := st.ds.Has(ctx, k)
	if err != nil {
		return err
	}
	if !has {
		return xerrors.Errorf("sector %d: %w", n, ErrNotFound)
	}
	return st.ds.Delete(ctx, k)
}

// List returns every tracked sector ordered by number. Records that fail to
// decode are skipped and reported in the returned error.
func (st *Store) List(ctx context.Context) ([]SectorInfo, error) {
	res, err := st.ds.Query(ctx, query.Query{})
	if err != nil {
		return nil, err
	}
	defer res.Close() // nolint

	var (
		out  []SectorInfo
		errs error
	)
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, r.Error
		}

		var si SectorInfo
		if err := cborutil.ReadCborRPC(bytes.NewReader(r.Value), &si); err != nil {
			errs = multierror.Append(errs, xerrors.Errorf("decoding state for key '%s': %w", r.Key, err))
			continue
		}
		out = append(out, si)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, errs
}
