// Package archive keeps completed sessions: once every target has been
// delivered, the final snapshot is copied under archives/<session>/ next to
// a small meta.json.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"fetchbot.ai/internal/persistence/snapshot"
)

type SessionArchiveMeta struct {
	Session   string   `json:"session"`
	Scene     string   `json:"scene"`
	EndTick   uint64   `json:"end_tick"`
	Targets   []string `json:"targets"`
	Snapshot  string   `json:"snapshot"`
	CreatedAt string   `json:"created_at"`
}

// ArchiveCompletedSession copies a snapshot into dataDir/archives/<session>/.
// Snapshots of unfinished sessions are skipped (archived=false).
func ArchiveCompletedSession(dataDir, snapshotPath string, snap snapshot.SessionV1) (archivedPath string, archived bool, err error) {
	if !snap.Delivered || snap.Remaining != 0 || snap.Header.Session == "" {
		return "", false, nil
	}

	dir := filepath.Join(dataDir, "archives", snap.Header.Session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := SessionArchiveMeta{
		Session:   snap.Header.Session,
		Scene:     snap.Header.Scene,
		EndTick:   snap.Header.Tick,
		Snapshot:  filepath.Base(dst),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, b := range snap.Bodies {
		meta.Targets = append(meta.Targets, b.ID)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, fmt.Errorf("archive meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, fmt.Errorf("archive meta: %w", err)
	}
	return dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
