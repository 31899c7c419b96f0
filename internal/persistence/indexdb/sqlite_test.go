package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/tuning"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	s.WriteEvent(protocol.Event{Tick: 2, Type: protocol.EventAttached})
	s.WriteEvent(protocol.Event{Tick: 3, Type: protocol.EventReleased})

	st := s.Stats()
	if st.DropEventTotal != 2 {
		t.Fatalf("DropEventTotal=%d want=2", st.DropEventTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_Deliveries(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index", "fetch.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if err := s.StartSession(ctx, "s1", "yard", 2, tuning.Defaults()); err != nil {
		t.Fatalf("start session: %v", err)
	}

	pb := [3]float64{0, 0.08, -5.2}
	pa := [3]float64{0.1, 0.08, -5.1}
	for _, e := range []protocol.Event{
		{Session: "s1", Tick: 1, Type: protocol.EventCommandAccepted, Remaining: 2},
		{Session: "s1", Tick: 2, Type: protocol.EventTargetSelected, TargetID: "B", Remaining: 2},
		{Session: "s1", Tick: 90, Type: protocol.EventSettled, TargetID: "B", Pos: &pb, Remaining: 1},
		{Session: "s1", Tick: 300, Type: protocol.EventSettled, TargetID: "A", Pos: &pa, Forced: true},
		{Session: "s1", Tick: 300, Type: protocol.EventAllDelivered},
		{Session: "other", Tick: 5, Type: protocol.EventSettled, TargetID: "Z"},
	} {
		s.WriteEvent(e)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	ds, err := s.Deliveries(ctx, "s1")
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}
	if len(ds) != 2 || ds[0].TargetID != "B" || ds[1].TargetID != "A" {
		t.Fatalf("deliveries=%+v", ds)
	}
	if ds[0].Forced || !ds[1].Forced || ds[0].Pos != pb {
		t.Fatalf("delivery details=%+v", ds)
	}

	n, err := s.CountEvents(ctx, "s1", protocol.EventAllDelivered)
	if err != nil || n != 1 {
		t.Fatalf("ALL_DELIVERED count=%d err=%v", n, err)
	}
	if st := s.Stats(); st.WrittenTotal != 6 || st.DropEventTotal != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestSQLiteIndex_ClosedIsNoop(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "fetch.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s.WriteEvent(protocol.Event{Type: protocol.EventAttached})
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
