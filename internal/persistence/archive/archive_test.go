package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fetchbot.ai/internal/persistence/snapshot"
)

func TestArchiveCompletedSession(t *testing.T) {
	dataDir := t.TempDir()
	snap := snapshot.SessionV1{
		Header:    snapshot.Header{Version: snapshot.Version, Session: "s1", Scene: "yard", Tick: 900},
		Delivered: true,
		Bodies:    []snapshot.BodyV1{{ID: "potion-red"}, {ID: "potion-blue"}},
	}
	src := filepath.Join(dataDir, "snapshots", snapshot.FileName(snap))
	if err := snapshot.WriteSnapshot(src, snap); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst, ok, err := ArchiveCompletedSession(dataDir, src, snap)
	if err != nil || !ok {
		t.Fatalf("archive: ok=%v err=%v", ok, err)
	}
	if filepath.Dir(dst) != filepath.Join(dataDir, "archives", "s1") {
		t.Fatalf("archived to %s", dst)
	}
	got, err := snapshot.ReadSnapshot(dst)
	if err != nil || got.Header != snap.Header {
		t.Fatalf("archived snapshot: %+v err=%v", got.Header, err)
	}

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(dst), "meta.json"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	var meta SessionArchiveMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("meta decode: %v", err)
	}
	if meta.EndTick != 900 || len(meta.Targets) != 2 || meta.Snapshot != "s1-900.snap.zst" {
		t.Fatalf("meta=%+v", meta)
	}
}

func TestUnfinishedSessionSkipped(t *testing.T) {
	snap := snapshot.SessionV1{Header: snapshot.Header{Session: "s2"}, Remaining: 1}
	if _, ok, err := ArchiveCompletedSession(t.TempDir(), "unused", snap); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestMetaWriteFailureIsReported(t *testing.T) {
	dataDir := t.TempDir()
	snap := snapshot.SessionV1{
		Header:    snapshot.Header{Version: snapshot.Version, Session: "s3", Scene: "yard", Tick: 10},
		Delivered: true,
	}
	src := filepath.Join(dataDir, "snapshots", snapshot.FileName(snap))
	if err := snapshot.WriteSnapshot(src, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	// A directory in the way of meta.json.
	if err := os.MkdirAll(filepath.Join(dataDir, "archives", "s3", "meta.json"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if _, ok, err := ArchiveCompletedSession(dataDir, src, snap); err == nil || ok {
		t.Fatalf("expected meta error, got ok=%v err=%v", ok, err)
	}
}
