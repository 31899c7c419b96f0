package fetch

import (
	"log/slog"
	"time"

	"fetchbot.ai/internal/protocol"
	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
	"fetchbot.ai/internal/sim/settle"
	"fetchbot.ai/internal/sim/tuning"
)

// DefaultCommandDelay is the delay TriggerNext uses.
const DefaultCommandDelay = 500 * time.Millisecond

// defaultSocket is used when no socket offset is configured: slightly above
// and in front of the carrier's origin.
var defaultSocket = geom.Pose{Pos: geom.V(0, 0.9, 0.5), Rot: geom.Identity}

type Config struct {
	Carrier   engine.EntityID
	Recipient engine.EntityID

	TargetTag string
	GripName  string

	ReachDistance          float64
	HandoffDistance        float64
	HandoffArriveTolerance float64
	GroundRayHeight        float64

	ReleaseForward float64
	ReleaseLift    float64

	// Socket is the carrier socket relative to the carrier. Nil means the
	// default socket, created on first use.
	Socket *geom.Pose

	Settle settle.Config

	SpeedParam             string
	MovingParam            string
	RunClipMetersPerSecond float64
}

// ConfigFromTuning maps tuning values onto a controller config.
func ConfigFromTuning(t tuning.Tuning, carrier, recipient engine.EntityID) Config {
	cfg := Config{
		Carrier:                carrier,
		Recipient:              recipient,
		TargetTag:              t.TargetTag,
		GripName:               t.GripName,
		ReachDistance:          t.Movement.ReachDistance,
		HandoffDistance:        t.Movement.HandoffDistance,
		HandoffArriveTolerance: t.Movement.HandoffArriveTolerance,
		GroundRayHeight:        t.Movement.GroundRayHeight,
		ReleaseForward:         t.Release.Forward,
		ReleaseLift:            t.Release.Lift,
		Settle: settle.Config{
			LeadTime:           t.Release.DropLeadTime(),
			SettleSpeed:        t.Release.SettleSpeed,
			MaxSettleTime:      t.Release.MaxSettleTime(),
			Freeze:             t.Release.FreezeAfterSettle,
			SettledDrag:        t.Release.SettledDrag,
			SettledAngularDrag: t.Release.SettledAngularDrag,
			Material:           t.Release.Material,
		},
		SpeedParam:             t.Animation.SpeedParam,
		MovingParam:            t.Animation.MovingParam,
		RunClipMetersPerSecond: t.Animation.RunClipMetersS,
	}
	if t.Socket != nil {
		p := t.Socket.Pose()
		cfg.Socket = &p
	}
	return cfg
}

// Deps are the collaborators the controller drives. Motion, Physics and
// Discovery are required.
type Deps struct {
	Motion    engine.Motion
	Physics   engine.Physics
	Ground    engine.Ground
	Discovery engine.Discovery
	Entities  engine.Entities
	Notifier  engine.Notifier
	Animator  engine.Animator

	Events protocol.EventSink
	Logger *slog.Logger
}
