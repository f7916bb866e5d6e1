package basicfs

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

type sectorFile struct {
	abi.SectorID
	storiface.SectorFileType
}

// Provider keeps every sector file under Root/<file type>/<sector name>. A
// file type of one sector is held by at most one caller at a time.
type Provider struct {
	Root string

	lk         sync.Mutex
	waitSector map[sectorFile]chan struct{}
}

func (b *Provider) AcquireSector(ctx context.Context, id storiface.SectorRef, existing storiface.SectorFileType, allocate storiface.SectorFileType) (storiface.SectorPaths, func(), error) {
	for _, fileType := range storiface.PathTypes {
		if err := os.Mkdir(filepath.Join(b.Root, fileType.String()), 0755); err != nil && !os.IsExist(err) { // nolint:gosec
			return storiface.SectorPaths{}, nil, err
		}
	}

	done := func() {}

	out := storiface.SectorPaths{
		ID: id.ID,
	}

	for _, fileType := range storiface.PathTypes {
		if !existing.Has(fileType) && !allocate.Has(fileType) {
			continue
		}

		b.lk.Lock()
		if b.waitSector == nil {
			b.waitSector = map[sectorFile]chan struct{}{}
		}
		ch, found := b.waitSector[sectorFile{id.ID, fileType}]
		if !found {
			ch = make(chan struct{}, 1)
			b.waitSector[sectorFile{id.ID, fileType}] = ch
		}
		b.lk.Unlock()

		select {
		case ch <- struct{}{}:
		case <-ctx.Done():
			done()
			return storiface.SectorPaths{}, nil, ctx.Err()
		}

		prevDone := done
		done = func() {
			prevDone()
			<-ch
		}

		path := filepath.Join(b.Root, fileType.String(), storiface.SectorName(id.ID))
		if existing.Has(fileType) {
			if _, err := os.Stat(path); err != nil {
				done()
				return storiface.SectorPaths{}, nil, storiface.NewIoError("stat", path, err)
			}
		}

		storiface.SetPathByType(&out, fileType, path)
	}

	return out, done, nil
}
