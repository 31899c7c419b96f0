// Package engine declares the collaborators the fetch controller drives.
// internal/sim/world provides an in-process implementation.
package engine

import (
	"fetchbot.ai/internal/sim/attach"
	"fetchbot.ai/internal/sim/geom"
)

// BodyID names a rigid body (a carried target).
type BodyID string

// EntityID names an actor in the scene (the carrier, the recipient).
type EntityID string

// ColliderID names a single collision shape.
type ColliderID string

type CollisionMode int

const (
	CollisionDiscrete CollisionMode = iota
	CollisionContinuous
	CollisionContinuousDynamic
)

type Interpolation int

const (
	InterpolateNone Interpolation = iota
	Interpolate
)

// Constraints freezes motion axes.
type Constraints uint8

const (
	FreezePosition Constraints = 1 << iota
	FreezeRotation

	ConstraintsNone Constraints = 0
	FreezeAll                   = FreezePosition | FreezeRotation
)

// Material is a surface profile applied to a collider.
type Material struct {
	Friction float64 `yaml:"friction" json:"friction"`
	Bounce   float64 `yaml:"bounce" json:"bounce"`
}

// Motion moves the carrier. When control is off the carrier holds its pose
// and the controller owns position and orientation.
type Motion interface {
	SetDestination(p geom.Vec3)
	Stop()
	SetControl(enabled bool)
	Position() geom.Vec3
	Velocity() geom.Vec3
	Rotation() geom.Quat
	SetRotation(q geom.Quat)
}

// Physics exposes per-body rigid-body controls. Pose reports false once a
// body no longer exists.
type Physics interface {
	Pose(id BodyID) (geom.Pose, bool)
	SetPose(id BodyID, p geom.Pose)

	SetKinematic(id BodyID, on bool)
	SetGravity(id BodyID, on bool)
	SetDetectCollisions(id BodyID, on bool)
	SetCollisionMode(id BodyID, m CollisionMode)
	SetInterpolation(id BodyID, m Interpolation)
	SetDrag(id BodyID, linear, angular float64)
	SetConstraints(id BodyID, c Constraints)
	Velocity(id BodyID) (linear, angular geom.Vec3)
	SetVelocity(id BodyID, linear, angular geom.Vec3)
	Wake(id BodyID)

	SetColliderEnabled(id BodyID, on bool)
	SetMaterial(id BodyID, m Material)
	ColliderOf(id BodyID) (ColliderID, bool)
	CollidersOf(e EntityID) []ColliderID
	IgnoreCollision(a, b ColliderID, ignore bool)
}

// Ground answers downward probes. ok is false on a miss.
type Ground interface {
	CastDown(from geom.Vec3, maxDistance float64) (y float64, ok bool)
}

// Discovered is one scene object found by tag.
type Discovered struct {
	ID    BodyID
	Frame *attach.Frame
}

type Discovery interface {
	FindAllByTag(tag string) []Discovered
}

// Entities resolves actor poses; ok is false when the actor is absent.
type Entities interface {
	EntityPose(id EntityID) (geom.Pose, bool)
}

// Notifier plays a named cue. Implementations must tolerate unknown names.
type Notifier interface {
	Notify(event string)
}

// Animator receives locomotion parameters. Optional.
type Animator interface {
	SetFloat(param string, v float64)
	SetBool(param string, v bool)
	SetPlaybackSpeed(v float64)
}
