package fsutil

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("fsutil")

type FsStat struct {
	Capacity    int64
	Available   int64 // Available to use for sector storage
	FSAvailable int64 // Available in the filesystem
}
