package tuning

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fetchbot.ai/internal/schemas"
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/engine"
)

const ProtocolVersion = "1.0"

type Tuning struct {
	TickRateHz      int     `yaml:"tick_rate_hz"`
	TargetTag       string  `yaml:"target_tag"`
	GripName        string  `yaml:"grip_name"`
	CommandDelaySec float64 `yaml:"command_delay_sec"`

	Movement  Movement      `yaml:"movement"`
	Release   Release       `yaml:"release"`
	Socket    *attach.Local `yaml:"socket"`
	Animation Animation     `yaml:"animation"`
}

type Movement struct {
	ReachDistance          float64 `yaml:"reach_distance"`
	HandoffDistance        float64 `yaml:"handoff_distance"`
	HandoffArriveTolerance float64 `yaml:"handoff_arrive_tolerance"`
	GroundRayHeight        float64 `yaml:"ground_ray_height"`
}

type Release struct {
	Forward            float64          `yaml:"forward"`
	Lift               float64          `yaml:"lift"`
	DropLeadTimeSec    float64          `yaml:"drop_lead_time_sec"`
	SettleSpeed        float64          `yaml:"settle_speed"`
	MaxSettleTimeSec   float64          `yaml:"max_settle_time_sec"`
	SettledDrag        float64          `yaml:"settled_drag"`
	SettledAngularDrag float64          `yaml:"settled_angular_drag"`
	FreezeAfterSettle  bool             `yaml:"freeze_after_settle"`
	Material           *engine.Material `yaml:"material"`
}

type Animation struct {
	SpeedParam     string  `yaml:"speed_param"`
	MovingParam    string  `yaml:"moving_param"`
	RunClipMetersS float64 `yaml:"run_clip_meters_per_second"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:      50,
		TargetTag:       "potion",
		GripName:        "GripPoint",
		CommandDelaySec: 0.5,
		Movement: Movement{
			ReachDistance:          1.2,
			HandoffDistance:        1.2,
			HandoffArriveTolerance: 0.25,
			GroundRayHeight:        5,
		},
		Release: Release{
			Forward:            0.03,
			Lift:               0.04,
			DropLeadTimeSec:    0.12,
			SettleSpeed:        0.12,
			MaxSettleTimeSec:   1.25,
			SettledDrag:        4,
			SettledAngularDrag: 5,
		},
		Animation: Animation{
			SpeedParam:     "Speed",
			MovingParam:    "IsMoving",
			RunClipMetersS: 2.5,
		},
	}
}

// TickDuration is one simulation step.
func (t Tuning) TickDuration() time.Duration {
	if t.TickRateHz <= 0 {
		return time.Second / 50
	}
	return time.Second / time.Duration(t.TickRateHz)
}

func (t Tuning) CommandDelay() time.Duration { return seconds(t.CommandDelaySec) }

func (r Release) DropLeadTime() time.Duration  { return seconds(r.DropLeadTimeSec) }
func (r Release) MaxSettleTime() time.Duration { return seconds(r.MaxSettleTimeSec) }

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Parse validates raw against the tuning schema and decodes it over
// Defaults(), so omitted keys keep their default values.
func Parse(raw []byte) (Tuning, error) {
	t := Defaults()
	if err := schemas.ValidateYAML(schemas.Tuning, raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func Load(path string) (Tuning, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), err
	}
	return Parse(raw)
}
