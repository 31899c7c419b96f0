// Package runner owns the simulation loop: it steps the world and the fetch
// controller on a fixed tick, applies commands from other goroutines and
// fans STATE snapshots out to subscribers.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/command"
	"fetchbot.ai/internal/sim/fetch"
	"fetchbot.ai/internal/sim/world"
)

var ErrStopped = errors.New("runner: stopped")

// MaxCommandDelaySec caps the delay a COMMAND may ask for.
const MaxCommandDelaySec = 3600.0

// StateWriter persists per-tick snapshots.
type StateWriter interface {
	WriteState(s protocol.StateMsg) error
}

type Config struct {
	World      *world.World
	Controller *fetch.Controller
	Commander  *command.Commander

	Tick         time.Duration
	CommandDelay time.Duration
	// VoiceClip is how long a spoken command plays before the pause.
	VoiceClip time.Duration
	// Auto issues the next command whenever the agent is idle.
	Auto bool
	// StateEvery writes one snapshot per N ticks to States (0 disables).
	StateEvery uint64
	States     StateWriter

	Session string
	Logger  *slog.Logger
}

// CommandRequest is a COMMAND delivered through the inbox. Resp must be
// buffered.
type CommandRequest struct {
	Cmd  protocol.CommandMsg
	Resp chan protocol.CommandResultMsg
}

type subscribeReq struct {
	out  chan protocol.StateMsg
	resp chan uint64
}

type Runner struct {
	cfg       Config
	world     *world.World
	ctl       *fetch.Controller
	commander *command.Commander
	log       *slog.Logger

	inbox chan CommandRequest
	sub   chan subscribeReq
	unsub chan uint64
	stop  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
	running  atomic.Bool

	subs    map[uint64]chan protocol.StateMsg
	nextSub uint64
	dropped atomic.Uint64

	last atomic.Pointer[protocol.StateMsg]
}

func New(cfg Config) (*Runner, error) {
	if cfg.World == nil || cfg.Controller == nil {
		return nil, errors.New("runner: world and controller are required")
	}
	if cfg.Tick <= 0 {
		return nil, errors.New("runner: tick must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.Commander == nil {
		cfg.Commander = command.New(cfg.Controller, cfg.World, cfg.CommandDelay, cfg.Logger)
		cfg.Commander.SetVoice(cfg.VoiceClip)
	}
	cfg.Controller.SetSession(cfg.Session)

	r := &Runner{
		cfg:       cfg,
		world:     cfg.World,
		ctl:       cfg.Controller,
		commander: cfg.Commander,
		log:       cfg.Logger,
		inbox:     make(chan CommandRequest, 64),
		sub:       make(chan subscribeReq, 16),
		unsub:     make(chan uint64, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		subs:      map[uint64]chan protocol.StateMsg{},
	}
	st := r.ctl.State()
	r.last.Store(&st)
	return r, nil
}

func (r *Runner) Session() string { return r.cfg.Session }

// State returns the latest published snapshot. Safe from any goroutine.
func (r *Runner) State() protocol.StateMsg { return *r.last.Load() }

// Dropped counts snapshots not delivered to slow subscribers.
func (r *Runner) Dropped() uint64 { return r.dropped.Load() }

func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run drives Step from a ticker until ctx is cancelled or Stop is called.
// It may be called once.
func (r *Runner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("runner: already running")
	}
	defer close(r.done)
	defer r.closeSubscribers()

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.log.Info("[Runner] started", "session", r.cfg.Session, "tick", r.cfg.Tick)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.inbox:
			req.Resp <- r.HandleCommand(req.Cmd)
		case req := <-r.sub:
			r.nextSub++
			r.subs[r.nextSub] = req.out
			req.resp <- r.nextSub
		case id := <-r.unsub:
			if ch, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(ch)
			}
		case <-ticker.C:
			r.Step(r.cfg.Tick)
		}
	}
}

// Step advances the world and the controller by dt and publishes the new
// state. Call it from the loop goroutine only (or instead of Run).
func (r *Runner) Step(dt time.Duration) protocol.StateMsg {
	r.world.Step(dt)
	if given, err := r.commander.Advance(dt); given && err != nil {
		r.log.Info("[Runner] spoken command rejected", "error", err)
	}
	r.ctl.Advance(dt)

	st := r.ctl.State()
	if r.cfg.Auto && st.Idle() && !r.commander.Speaking() {
		_ = r.commander.Issue()
		st = r.ctl.State()
	}
	r.publish(st)
	return st
}

func (r *Runner) publish(st protocol.StateMsg) {
	r.last.Store(&st)

	if r.cfg.States != nil && r.cfg.StateEvery > 0 && st.Tick%r.cfg.StateEvery == 0 {
		if err := r.cfg.States.WriteState(st); err != nil {
			r.log.Warn("[Runner] state write failed", "error", err)
		}
	}
	for _, ch := range r.subs {
		select {
		case ch <- st:
		default:
			r.dropped.Add(1)
		}
	}
}

// HandleCommand applies a COMMAND and builds its result. Loop goroutine
// only.
func (r *Runner) HandleCommand(msg protocol.CommandMsg) (res protocol.CommandResultMsg) {
	res = protocol.CommandResultMsg{
		Type:            protocol.TypeCommandResult,
		ProtocolVersion: protocol.Version,
		ID:              msg.ID,
	}
	defer func() { res.Remaining = r.ctl.Remaining() }()

	if msg.ProtocolVersion != protocol.Version {
		res.Code = protocol.ErrProtoBadRequest
		res.Message = "bad protocol_version"
		return res
	}
	delay := r.cfg.CommandDelay
	if msg.DelaySec != nil {
		d := *msg.DelaySec
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) || d > MaxCommandDelaySec {
			res.Code = protocol.ErrBadRequest
			res.Message = fmt.Sprintf("delay_sec must be between 0 and %g", MaxCommandDelaySec)
			return res
		}
		delay = time.Duration(math.Round(d * float64(time.Second)))
	}
	if msg.Say {
		switch {
		case r.ctl.Remaining() == 0:
			res.Code = protocol.ErrNoResource
			res.Message = fetch.ErrPoolEmpty.Error()
		case !r.commander.SayAfter(delay):
			res.Code = protocol.ErrConflict
			res.Message = "already speaking"
		default:
			res.OK = true
		}
		return res
	}
	if err := r.commander.IssueAfter(delay); err != nil {
		res.Code = fetch.RejectCode(err)
		res.Message = err.Error()
		return res
	}
	res.OK = true
	return res
}

// Command sends msg to the loop and waits for its result.
func (r *Runner) Command(ctx context.Context, msg protocol.CommandMsg) (protocol.CommandResultMsg, error) {
	resp := make(chan protocol.CommandResultMsg, 1)
	select {
	case r.inbox <- CommandRequest{Cmd: msg, Resp: resp}:
	case <-ctx.Done():
		return protocol.CommandResultMsg{}, ctx.Err()
	case <-r.done:
		return protocol.CommandResultMsg{}, ErrStopped
	}
	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return protocol.CommandResultMsg{}, ctx.Err()
	case <-r.done:
		return protocol.CommandResultMsg{}, ErrStopped
	}
}

// Subscribe registers a STATE stream. Slow readers miss snapshots rather
// than stall the loop. The channel is closed by cancel or when Run exits.
func (r *Runner) Subscribe(ctx context.Context, buffer int) (<-chan protocol.StateMsg, func(), error) {
	if buffer <= 0 {
		buffer = 8
	}
	out := make(chan protocol.StateMsg, buffer)
	resp := make(chan uint64, 1)
	select {
	case r.sub <- subscribeReq{out: out, resp: resp}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-r.done:
		return nil, nil, ErrStopped
	}

	var id uint64
	select {
	case id = <-resp:
	case <-ctx.Done():
		// The loop owns the request now; take it back once it is registered.
		go r.abandon(resp)
		return nil, nil, ctx.Err()
	case <-r.done:
		return nil, nil, ErrStopped
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case r.unsub <- id:
			case <-r.done:
			}
		})
	}
	return out, cancel, nil
}

func (r *Runner) abandon(resp <-chan uint64) {
	select {
	case id := <-resp:
		select {
		case r.unsub <- id:
		case <-r.done:
		}
	case <-r.done:
	}
}

func (r *Runner) closeSubscribers() {
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}
