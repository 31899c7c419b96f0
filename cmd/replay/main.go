package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	persistlog "fetchbot.ai/internal/persistence/log"
	"fetchbot.ai/internal/persistence/snapshot"
	"fetchbot.ai/internal/schemas"
)

func main() {
	var (
		eventsDir = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		session   = flag.String("session", "", "only check this session (optional)")
		validate  = flag.Bool("schema", true, "validate every event against the event schema")
		snapPath  = flag.String("snapshot", "", "path to a .snap.zst to summarize (optional)")
	)
	flag.Parse()

	var snap *snapshot.SessionV1
	if *snapPath != "" {
		sv, err := snapshot.ReadSnapshot(*snapPath)
		snap = &sv
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d session=%s scene=%s tick=%d phase=%s remaining=%d delivered=%v bodies=%d cues=%d\n",
			snap.Header.Version, snap.Header.Session, snap.Header.Scene, snap.Header.Tick,
			snap.Phase, snap.Remaining, snap.Delivered, len(snap.Bodies), len(snap.Cues))
		if *session == "" {
			*session = snap.Header.Session
		}
	}

	files, err := persistlog.EventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}
	events, err := persistlog.ReadEvents(files)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read events:", err)
		os.Exit(1)
	}

	if *validate {
		for i, e := range events {
			if err := schemas.ValidateValue(schemas.Event, e); err != nil {
				fmt.Fprintf(os.Stderr, "event %d (tick=%d type=%s): %v\n", i, e.Tick, e.Type, err)
				os.Exit(1)
			}
		}
	}

	sums, err := Check(events)
	if err != nil {
		fmt.Fprintln(os.Stderr, "check:", err)
		os.Exit(1)
	}

	if snap != nil {
		if s, ok := sums[snap.Header.Session]; ok && s.remaining != snap.Remaining {
			fmt.Fprintf(os.Stderr, "snapshot remaining=%d but events end at %d\n", snap.Remaining, s.remaining)
			os.Exit(1)
		}
	}

	ids := make([]string, 0, len(sums))
	for id := range sums {
		if *session == "" || id == *session {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := sums[id]
		fmt.Printf("session=%s events=%d commands=%d rejected=%d delivered=%d forced=%d lost=%d all_delivered=%v\n",
			id, s.Events, s.Commands, s.Rejected, len(s.Deliveries), s.Forced, s.Lost, s.AllDelivered)
		for _, d := range s.Deliveries {
			fmt.Printf("  tick=%d target=%s forced=%v remaining=%d\n", d.Tick, d.TargetID, d.Forced, d.Remaining)
		}
	}
	fmt.Printf("replay ok: files=%d events=%d sessions=%d\n", len(files), len(events), len(sums))
}
