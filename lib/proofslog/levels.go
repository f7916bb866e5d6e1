package proofslog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels sets the default levels. GOLOG_LOG_LEVEL, when set, wins.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); set {
		return
	}

	_ = logging.SetLogLevel("*", "INFO")
	_ = logging.SetLogLevel("sectorcache", "WARN")
	_ = logging.SetLogLevel("sectorstate", "WARN")
	_ = logging.SetLogLevel("metrics", "WARN")
}
