package ffiwrapper

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/filecoin-project/go-state-types/abi"

	"github.com/filecoin-project/sector-proofs/storage/sealer/post"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofcfg"
	"github.com/filecoin-project/sector-proofs/storage/sealer/proofpaths"
	"github.com/filecoin-project/sector-proofs/storage/sealer/sectorcache"
	"github.com/filecoin-project/sector-proofs/storage/sealer/storiface"
)

// CheckProvable returns unprovable sectors with the reason they can't be
// proven. With rg set every sector also has to open at a random challenge.
func (sb *Sealer) CheckProvable(ctx context.Context, pp abi.RegisteredPoStProof, sectors []storiface.SectorRef, rg storiface.RGetter) (map[abi.SectorID]string, error) {
	cfg, err := proofcfg.PoStConfigFor(pp, sb.apiVersion)
	if err != nil {
		return nil, err
	}

	treeSize, err := sectorcache.BaseTreeSize(cfg.SectorSize, false)
	if err != nil {
		return nil, err
	}

	var bad = make(map[abi.SectorID]string)

	for _, sector := range sectors {
		err := func() error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var (
				commR  storiface.Commitment
				update bool
			)
			if rg != nil {
				sealed, upd, err := rg(ctx, sector.ID)
				if err != nil {
					log.Warnw("CheckProvable Sector FAULT: getting commR", "sector", sector.ID, "error", err)
					bad[sector.ID] = "getting commR: " + err.Error()
					return nil
				}
				if commR, err = storiface.ReplicaCommitment(sealed); err != nil {
					bad[sector.ID] = "decoding commR: " + err.Error()
					return nil
				}
				update = upd
			}

			existing := storiface.FTSealed | storiface.FTCache
			if update {
				existing = storiface.FTUpdate | storiface.FTUpdateCache
			}

			paths, release, err := sb.sectors.AcquireSector(ctx, sector, existing, storiface.FTNone)
			if err != nil {
				log.Warnw("CheckProvable Sector FAULT: acquire sector", "sector", sector.ID, "error", err)
				bad[sector.ID] = "acquire sector failed: " + err.Error()
				return nil
			}
			defer release()

			replica, cache := paths.Sealed, paths.Cache
			if update {
				replica, cache = paths.Update, paths.UpdateCache
			}

			toCheck := map[string]int64{
				replica: int64(cfg.SectorSize),
			}
			for _, name := range proofpaths.TreeRLastFiles(cfg.Shape.BaseTrees()) {
				toCheck[filepath.Join(cache, name)] = treeSize
			}

			for p, sz := range toCheck {
				st, err := os.Stat(p)
				if err != nil {
					log.Warnw("CheckProvable Sector FAULT: sector file stat error", "sector", sector.ID, "sealed", replica, "cache", cache, "file", p, "error", err)
					bad[sector.ID] = "stat: " + err.Error()
					return nil
				}
				if st.Size() != sz {
					log.Warnw("CheckProvable Sector FAULT: sector file is wrong size", "sector", sector.ID, "sealed", replica, "cache", cache, "file", p, "size", st.Size(), "expectSize", sz)
					bad[sector.ID] = "wrong file size"
					return nil
				}
			}

			if _, err := sectorcache.ReadPAux(cache); err != nil {
				log.Warnw("CheckProvable Sector FAULT: reading p_aux", "sector", sector.ID, "cache", cache, "error", err)
				bad[sector.ID] = "reading p_aux: " + err.Error()
				return nil
			}

			if rg == nil {
				return nil
			}

			randomness := make(abi.PoStRandomness, 32)
			if _, err := rand.Read(randomness); err != nil {
				return xerrors.Errorf("generating randomness: %w", err)
			}
			randomness[31] &= 0x3f

			chs, err := post.GenerateFallbackSectorChallenges(cfg, randomness, []abi.SectorNumber{sector.ID.Number})
			if err != nil {
				log.Warnw("CheckProvable Sector FAULT: generating challenges", "sector", sector.ID, "error", err)
				bad[sector.ID] = "generating challenges: " + err.Error()
				return nil
			}

			_, err = post.GenerateSingleVanillaProof(cfg, post.PrivateSectorInfo{
				SectorInfo: post.SectorInfo{SectorNumber: sector.ID.Number, CommR: commR},
				CacheDir:   cache,
				SealedPath: replica,
			}, chs[sector.ID.Number])
			if err != nil {
				log.Warnw("CheckProvable Sector FAULT: generating vanilla proof", "sector", sector.ID, "sealed", replica, "cache", cache, "error", err)
				bad[sector.ID] = "generating vanilla proof: " + err.Error()
				return nil
			}

			return nil
		}()
		if err != nil {
			return nil, err
		}
	}

	return bad, nil
}
