package main

import (
	"fmt"

	"fetchbot.ai/internal/protocol"
)

type Delivery struct {
	Tick      uint64
	TargetID  string
	Forced    bool
	Remaining int
}

type Summary struct {
	Events       int
	Commands     int
	Rejected     int
	Forced       int
	Lost         int
	Deliveries   []Delivery
	AllDelivered bool

	settling  string
	remaining int
	lastTick  uint64
	settled   map[string]bool
}

// Check groups events by session and verifies the delivery invariants:
// ticks never go backwards, each target settles once with the remaining
// count dropping by one, only one release is in flight at a time, and
// ALL_DELIVERED is announced once, after the last delivery.
func Check(events []protocol.Event) (map[string]*Summary, error) {
	out := map[string]*Summary{}
	for i, e := range events {
		s := out[e.Session]
		if s == nil {
			s = &Summary{remaining: -1, settled: map[string]bool{}}
			out[e.Session] = s
		}
		if err := s.add(e); err != nil {
			return nil, fmt.Errorf("event %d session=%q tick=%d %s: %w", i, e.Session, e.Tick, e.Type, err)
		}
	}
	return out, nil
}

func (s *Summary) add(e protocol.Event) error {
	if e.Tick < s.lastTick {
		return fmt.Errorf("tick went backwards (last %d)", s.lastTick)
	}
	s.lastTick = e.Tick
	s.Events++

	if s.AllDelivered && e.Type != protocol.EventCommandRejected {
		return fmt.Errorf("event after ALL_DELIVERED")
	}
	if s.remaining >= 0 && e.Remaining > s.remaining {
		return fmt.Errorf("remaining grew from %d to %d", s.remaining, e.Remaining)
	}

	switch e.Type {
	case protocol.EventCommandAccepted:
		s.Commands++
	case protocol.EventCommandRejected:
		s.Rejected++
	case protocol.EventReleased:
		if s.settling != "" {
			return fmt.Errorf("release of %s while %s is still settling", e.TargetID, s.settling)
		}
		s.settling = e.TargetID
	case protocol.EventSettled:
		if s.settled[e.TargetID] {
			return fmt.Errorf("target %s settled twice", e.TargetID)
		}
		if s.settling != "" && s.settling != e.TargetID {
			return fmt.Errorf("settled %s but %s was released", e.TargetID, s.settling)
		}
		if s.remaining >= 0 && e.Remaining != s.remaining-1 {
			return fmt.Errorf("remaining %d after settle, want %d", e.Remaining, s.remaining-1)
		}
		s.settled[e.TargetID] = true
		s.settling = ""
		if e.Forced {
			s.Forced++
		}
		if e.Detail == "lost" {
			s.Lost++
		}
		s.Deliveries = append(s.Deliveries, Delivery{Tick: e.Tick, TargetID: e.TargetID, Forced: e.Forced, Remaining: e.Remaining})
	case protocol.EventAllDelivered:
		if e.Remaining != 0 {
			return fmt.Errorf("ALL_DELIVERED with %d remaining", e.Remaining)
		}
		s.AllDelivered = true
	}
	s.remaining = e.Remaining
	return nil
}
