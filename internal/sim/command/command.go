// Package command is the player's side of the fetch loop: it forwards a
// "go fetch" request to the controller, picks the voice cue to play and can
// hold the request back until the spoken line has finished.
package command

import (
	"log/slog"
	"time"

	"fetchbot.ai/internal/sim/engine"
)

const (
	CueFirst = "command_first"
	CueNext  = "command_next"
)

// Fetcher is the part of the controller a commander drives.
type Fetcher interface {
	GiveCommand(delay time.Duration) error
	Remaining() int
}

// noVoiceWait stands in for the clip when its length is unknown.
const noVoiceWait = 100 * time.Millisecond

type Commander struct {
	fetcher  Fetcher
	notifier engine.Notifier
	delay    time.Duration
	voice    time.Duration
	log      *slog.Logger

	gaveFirst bool
	issued    int

	speaking bool
	wait     time.Duration
}

func New(f Fetcher, n engine.Notifier, delay time.Duration, logger *slog.Logger) *Commander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commander{fetcher: f, notifier: n, delay: delay, log: logger}
}

// SetVoice sets how long the spoken command clip plays.
func (c *Commander) SetVoice(clip time.Duration) { c.voice = clip }

// Issue forwards a command and plays the first-of-run or follow-up cue.
// The cue plays even when the controller rejects the command; the returned
// error is the controller's verdict. Once the pool is empty the next run
// starts with the first cue again.
func (c *Commander) Issue() error { return c.IssueAfter(c.delay) }

// IssueAfter is Issue with an explicit delay.
func (c *Commander) IssueAfter(delay time.Duration) error {
	err := c.give(delay)
	c.playCue()
	c.resetIfEmpty()
	return err
}

// Say speaks the command first: the cue plays, the clip runs out, the
// commander waits its delay and only then gives the command with no further
// delay. It reports false while an earlier Say is still pending.
func (c *Commander) Say() bool { return c.SayAfter(c.delay) }

// SayAfter is Say with an explicit pause after the clip.
func (c *Commander) SayAfter(pause time.Duration) bool {
	if c.speaking {
		return false
	}
	clip := c.voice
	if clip <= 0 {
		c.log.Warn("[Command] voice length not set, skipping voice")
		clip = noVoiceWait
	}
	c.playCue()
	c.speaking = true
	c.wait = clip + max(pause, 0)
	return true
}

// Speaking reports whether a Say is waiting to give its command.
func (c *Commander) Speaking() bool { return c.speaking }

// Advance moves a pending Say forward by dt. given is true on the call that
// handed the command to the controller; err is the controller's verdict.
func (c *Commander) Advance(dt time.Duration) (given bool, err error) {
	if !c.speaking {
		return false, nil
	}
	c.wait -= dt
	if c.wait > 0 {
		return false, nil
	}
	c.speaking = false
	err = c.give(0)
	c.resetIfEmpty()
	return true, err
}

func (c *Commander) give(delay time.Duration) error {
	err := c.fetcher.GiveCommand(delay)
	if err != nil {
		c.log.Debug("[Command] rejected", "error", err)
	} else {
		c.issued++
	}
	return err
}

func (c *Commander) playCue() {
	cue := CueFirst
	if c.gaveFirst {
		cue = CueNext
	}
	if c.notifier != nil {
		c.notifier.Notify(cue)
	}
	c.gaveFirst = true
}

func (c *Commander) resetIfEmpty() {
	if c.fetcher.Remaining() == 0 {
		c.gaveFirst = false
	}
}

// Issued counts accepted commands.
func (c *Commander) Issued() int { return c.issued }
