package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/algernon-A/TransferController-sub001/internal/persistence/indexdb"
)

// openIndex returns nil when the index is turned off by flag or by
// TC_INDEX_BACKEND.
func openIndex(dataDir string, disable bool) (*indexdb.SQLiteIndex, error) {
	if disable {
		return nil, nil
	}
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TC_INDEX_BACKEND")))
	switch backend {
	case "", "sqlite":
		return indexdb.OpenSQLite(indexPath(dataDir))
	case "none", "off", "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported TC_INDEX_BACKEND: %s", backend)
	}
}

func indexPath(dataDir string) string {
	return filepath.Join(dataDir, "index", "controller.sqlite")
}
