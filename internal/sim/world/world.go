// Package world is a small in-process simulation implementing every
// collaborator the fetch controller needs. All state must be accessed only
// from the goroutine that calls Step.
package world

import (
	"errors"
	"log/slog"
	"time"

	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/engine"
	"fetchbot.ai/internal/sim/geom"
	"fetchbot.ai/internal/sim/scene"
)

var ErrUnknownBody = errors.New("world: unknown body")

type World struct {
	scene   scene.Scene
	gravity float64
	groundY float64

	agent  *Agent
	actors map[engine.EntityID]*actor
	order  []engine.EntityID

	bodies map[engine.BodyID]*body
	ids    []engine.BodyID

	ignored map[colliderPair]bool

	clips map[string]string
	cues  []string
	anim  *Animator

	elapsed time.Duration
	steps   uint64
	log     *slog.Logger
}

type actor struct {
	id        engine.EntityID
	pose      geom.Pose
	colliders []engine.ColliderID
}

type colliderPair struct{ a, b engine.ColliderID }

func pair(a, b engine.ColliderID) colliderPair {
	if b < a {
		a, b = b, a
	}
	return colliderPair{a, b}
}

// New builds a world from s. logger may be nil.
func New(s scene.Scene, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	w := &World{
		scene:   s,
		gravity: s.Gravity,
		groundY: s.GroundY,
		actors:  map[engine.EntityID]*actor{},
		bodies:  map[engine.BodyID]*body{},
		ignored: map[colliderPair]bool{},
		clips:   s.Clips,
		anim:    newAnimator(),
		log:     logger,
	}
	if w.gravity == 0 {
		w.gravity = scene.DefaultGravity
	}

	start := s.Agent.Pose()
	start.Pos.Y = w.groundY
	speed := s.Agent.Speed
	if speed <= 0 {
		speed = scene.DefaultSpeed
	}
	w.agent = &Agent{pos: start.Pos, rot: start.Rot, speed: speed}
	w.addActor(s.Agent, start)
	w.addActor(s.Player, s.Player.Pose())

	for _, t := range s.Targets {
		r := t.Radius
		if r <= 0 {
			r = scene.DefaultRadius
		}
		id := engine.BodyID(t.ID)
		w.bodies[id] = &body{
			id:         id,
			tag:        t.Tag,
			frame:      t.Frame,
			pose:       t.Pose(),
			radius:     r,
			gravity:    true,
			detect:     true,
			colliderOn: true,
			collider:   engine.ColliderID(t.ID + "/collider"),
			material:   defaultMaterial,
		}
		w.ids = append(w.ids, id)
	}
	return w
}

func (w *World) addActor(a scene.Actor, pose geom.Pose) {
	id := engine.EntityID(a.ID)
	cols := make([]engine.ColliderID, 0, len(a.Colliders))
	for _, c := range a.Colliders {
		cols = append(cols, engine.ColliderID(c))
	}
	if len(cols) == 0 {
		cols = append(cols, engine.ColliderID(a.ID))
	}
	w.actors[id] = &actor{id: id, pose: pose, colliders: cols}
	w.order = append(w.order, id)
}

func (w *World) AgentID() engine.EntityID     { return engine.EntityID(w.scene.Agent.ID) }
func (w *World) RecipientID() engine.EntityID { return engine.EntityID(w.scene.Player.ID) }

// Motion is the agent's navigation controller.
func (w *World) Motion() *Agent { return w.agent }

func (w *World) Animator() *Animator { return w.anim }

func (w *World) Elapsed() time.Duration { return w.elapsed }

func (w *World) Steps() uint64 { return w.steps }

// Step advances navigation and rigid bodies by dt.
func (w *World) Step(dt time.Duration) {
	w.steps++
	w.elapsed += dt

	w.agent.step(dt, w.groundY)
	if a, ok := w.actors[w.AgentID()]; ok {
		a.pose = geom.Pose{Pos: w.agent.pos, Rot: w.agent.rot}
	}

	for _, id := range w.ids {
		w.stepBody(w.bodies[id], dt.Seconds())
	}
}

// EntityPose implements engine.Entities.
func (w *World) EntityPose(id engine.EntityID) (geom.Pose, bool) {
	a, ok := w.actors[id]
	if !ok {
		return geom.Pose{}, false
	}
	return a.pose, true
}

// SetEntityPose moves a static actor. The agent is moved by navigation only.
func (w *World) SetEntityPose(id engine.EntityID, p geom.Pose) bool {
	a, ok := w.actors[id]
	if !ok || id == w.AgentID() {
		return false
	}
	a.pose = p
	return true
}

// RemoveEntity takes an actor out of the scene.
func (w *World) RemoveEntity(id engine.EntityID) {
	if _, ok := w.actors[id]; !ok {
		return
	}
	delete(w.actors, id)
	for i, e := range w.order {
		if e == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// FindAllByTag implements engine.Discovery, in scene order.
func (w *World) FindAllByTag(tag string) []engine.Discovered {
	var out []engine.Discovered
	for _, id := range w.ids {
		b := w.bodies[id]
		if b.tag == tag {
			out = append(out, engine.Discovered{ID: id, Frame: cloneFrame(b.frame)})
		}
	}
	return out
}

func cloneFrame(f *attach.Frame) *attach.Frame {
	if f == nil {
		return nil
	}
	c := &attach.Frame{Name: f.Name, Local: f.Local}
	for _, ch := range f.Children {
		c.Children = append(c.Children, cloneFrame(ch))
	}
	return c
}

// CastDown implements engine.Ground. The world has a single flat ground
// plane.
func (w *World) CastDown(from geom.Vec3, maxDistance float64) (float64, bool) {
	d := from.Y - w.groundY
	if d < 0 || d > maxDistance {
		return 0, false
	}
	return w.groundY, true
}

// Notify implements engine.Notifier. Unknown cues are logged instead of
// played.
func (w *World) Notify(cue string) {
	w.cues = append(w.cues, cue)
	if clip, ok := w.clips[cue]; ok && clip != "" {
		w.log.Info("[World] play", "cue", cue, "clip", clip)
		return
	}
	w.log.Info("[World] cue without clip", "cue", cue)
}

// Cues lists every cue notified so far.
func (w *World) Cues() []string { return append([]string(nil), w.cues...) }

// BodyIDs lists bodies still in the world, in scene order.
func (w *World) BodyIDs() []engine.BodyID { return append([]engine.BodyID(nil), w.ids...) }

// Destroy removes a body, as if the object was deleted from the scene.
func (w *World) Destroy(id engine.BodyID) error {
	if _, ok := w.bodies[id]; !ok {
		return ErrUnknownBody
	}
	delete(w.bodies, id)
	for i, b := range w.ids {
		if b == id {
			w.ids = append(w.ids[:i], w.ids[i+1:]...)
			break
		}
	}
	return nil
}
