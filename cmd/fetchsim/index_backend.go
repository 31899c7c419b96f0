package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fetchbot.ai/internal/persistence/indexdb"
	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/tuning"
)

type indexBackend interface {
	protocol.EventSink
	Close() error
	StartSession(ctx context.Context, id, scene string, targets int, tune tuning.Tuning) error
	Stats() indexdb.Stats
}

func openIndex(dataDir string, disableDB bool) (indexBackend, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("FB_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "fetch.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported FB_INDEX_BACKEND: %s", backend)
	}
}
