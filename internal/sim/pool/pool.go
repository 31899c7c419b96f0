// Package pool tracks the undelivered targets of a session and the one-shot
// "all delivered" latch.
package pool

import (
	"errors"

	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
)

var (
	ErrSealed    = errors.New("pool: registration closed")
	ErrDuplicate = errors.New("pool: target already registered")
	ErrNotFound  = errors.New("pool: target not in pool")
)

// Target is a registered pool entry. Grip is resolved once at registration.
type Target struct {
	ID   engine.BodyID
	Grip *geom.Pose
}

type Pool struct {
	targets  []Target
	index    map[engine.BodyID]int
	sealed   bool
	signaled bool
	fired    int
	removed  int

	onComplete func()
}

// New returns an open pool. onComplete runs at most once, when the
// completion latch first fires.
func New(onComplete func()) *Pool {
	return &Pool{
		index:      map[engine.BodyID]int{},
		onComplete: onComplete,
	}
}

func (p *Pool) Register(t Target) error {
	if p.sealed {
		return ErrSealed
	}
	if _, ok := p.index[t.ID]; ok {
		return ErrDuplicate
	}
	p.index[t.ID] = len(p.targets)
	p.targets = append(p.targets, t)
	return nil
}

// Seal closes registration. An empty pool has nothing to announce, so the
// latch is set without firing.
func (p *Pool) Seal() {
	p.sealed = true
	if len(p.targets) == 0 {
		p.signaled = true
	}
}

// Remove drops id. It succeeds exactly once per target.
func (p *Pool) Remove(id engine.BodyID) error {
	i, ok := p.index[id]
	if !ok {
		return ErrNotFound
	}
	p.targets = append(p.targets[:i], p.targets[i+1:]...)
	delete(p.index, id)
	for j := i; j < len(p.targets); j++ {
		p.index[p.targets[j].ID] = j
	}
	p.removed++
	return nil
}

func (p *Pool) Remaining() int { return len(p.targets) }

func (p *Pool) Removed() int { return p.removed }

func (p *Pool) Contains(id engine.BodyID) bool {
	_, ok := p.index[id]
	return ok
}

func (p *Pool) Get(id engine.BodyID) (Target, bool) {
	i, ok := p.index[id]
	if !ok {
		return Target{}, false
	}
	return p.targets[i], true
}

// Targets returns the remaining targets in registration order.
func (p *Pool) Targets() []Target {
	return append([]Target(nil), p.targets...)
}

// SignalCompletionOnce fires the completion callback if the pool is empty
// and the latch has not fired yet. It reports whether it fired.
func (p *Pool) SignalCompletionOnce() bool {
	if p.signaled || len(p.targets) > 0 {
		return false
	}
	p.signaled = true
	p.fired++
	if p.onComplete != nil {
		p.onComplete()
	}
	return true
}

func (p *Pool) Signaled() bool { return p.signaled }

// Fired counts real firings; it never exceeds one.
func (p *Pool) Fired() int { return p.fired }
