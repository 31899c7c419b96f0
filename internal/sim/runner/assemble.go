package runner

import (
	"log/slog"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/fetch"
	"fetchbot.ai/internal/sim/scene"
	"fetchbot.ai/internal/sim/tuning"
	"fetchbot.ai/internal/sim/world"
)

// Assemble builds the reference world for s and a fetch controller bound
// to it. events may be nil.
func Assemble(s scene.Scene, t tuning.Tuning, events protocol.EventSink, logger *slog.Logger) (*world.World, *fetch.Controller, error) {
	w := world.New(s, logger)
	cfg := fetch.ConfigFromTuning(t, w.AgentID(), w.RecipientID())
	ctl, err := fetch.New(cfg, fetch.Deps{
		Motion:    w.Motion(),
		Physics:   w,
		Ground:    w,
		Discovery: w,
		Entities:  w,
		Notifier:  w,
		Animator:  w.Animator(),
		Events:    events,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return w, ctl, nil
}
