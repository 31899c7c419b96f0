// Package scene describes the reference world a session runs in: the
// agent, the recipient, and the tagged targets lying around.
package scene

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"fetchbot.ai/internal/schemas"
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/geom"
)

type Scene struct {
	Name    string            `yaml:"name"`
	GroundY float64           `yaml:"ground_y"`
	Gravity float64           `yaml:"gravity"`
	Agent   Actor             `yaml:"agent"`
	Player  Actor             `yaml:"recipient"`
	Targets []Target          `yaml:"targets"`
	Clips   map[string]string `yaml:"clips"`
}

type Actor struct {
	ID        string     `yaml:"id"`
	Pos       [3]float64 `yaml:"pos"`
	YawDeg    float64    `yaml:"yaw_deg"`
	Speed     float64    `yaml:"speed"`
	Colliders []string   `yaml:"colliders"`
}

type Target struct {
	ID     string        `yaml:"id"`
	Tag    string        `yaml:"tag"`
	Pos    [3]float64    `yaml:"pos"`
	YawDeg float64       `yaml:"yaw_deg"`
	Radius float64       `yaml:"radius"`
	Frame  *attach.Frame `yaml:"frame"`
}

const (
	DefaultGravity = 9.81
	DefaultSpeed   = 3.5
	DefaultRadius  = 0.08
)

func (a Actor) Pose() geom.Pose {
	return geom.Pose{Pos: vec(a.Pos), Rot: geom.Yaw(a.YawDeg * math.Pi / 180)}
}

func (t Target) Pose() geom.Pose {
	return geom.Pose{Pos: vec(t.Pos), Rot: geom.Yaw(t.YawDeg * math.Pi / 180)}
}

func vec(v [3]float64) geom.Vec3 { return geom.V(v[0], v[1], v[2]) }

// Default is the yard used when no scene file is given: three potions, one
// of them without a grip point.
func Default() Scene {
	grip := func(name string) *attach.Frame {
		return &attach.Frame{
			Name: name,
			Children: []*attach.Frame{
				{Name: "Mesh"},
				{Name: "GripPoint", Local: attach.Local{Pos: [3]float64{0, 0.12, 0}}},
			},
		}
	}
	return Scene{
		Name:    "yard",
		Gravity: DefaultGravity,
		Agent: Actor{
			ID:        "dog",
			Speed:     DefaultSpeed,
			Colliders: []string{"dog/body", "dog/head"},
		},
		Player: Actor{
			ID:        "player",
			Pos:       [3]float64{0, 0, -4},
			Colliders: []string{"player/capsule"},
		},
		Targets: []Target{
			{ID: "potion-red", Tag: "potion", Pos: [3]float64{5, 0.08, 3}, Frame: grip("PotionRed")},
			{ID: "potion-blue", Tag: "potion", Pos: [3]float64{-3, 0.08, 6}, YawDeg: 40, Frame: grip("PotionBlue")},
			{ID: "potion-green", Tag: "potion", Pos: [3]float64{2, 0.08, -1}, Frame: &attach.Frame{Name: "PotionGreen"}},
		},
		Clips: map[string]string{
			"command_first": "bark_first.wav",
			"command_next":  "bark_next.wav",
			"all_delivered": "fanfare.wav",
		},
	}
}

func (s *Scene) applyDefaults() {
	if s.Gravity == 0 {
		s.Gravity = DefaultGravity
	}
	if s.Agent.Speed == 0 {
		s.Agent.Speed = DefaultSpeed
	}
	for i := range s.Targets {
		if s.Targets[i].Radius == 0 {
			s.Targets[i].Radius = DefaultRadius
		}
	}
}

// Validate checks what the schema cannot: unique ids across actors and
// targets.
func (s Scene) Validate() error {
	seen := map[string]bool{}
	for _, id := range append([]string{s.Agent.ID, s.Player.ID}, targetIDs(s.Targets)...) {
		if id == "" {
			return fmt.Errorf("scene: empty id")
		}
		if seen[id] {
			return fmt.Errorf("scene: duplicate id %q", id)
		}
		seen[id] = true
	}
	return nil
}

func targetIDs(ts []Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}

func Parse(raw []byte) (Scene, error) {
	var s Scene
	if err := schemas.ValidateYAML(schemas.Scene, raw); err != nil {
		return s, fmt.Errorf("scene.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("scene.yaml: %w", err)
	}
	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func Load(path string) (Scene, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Scene{}, err
	}
	return Parse(raw)
}
