// Package attach places a carried object on a carrier socket so that the
// object's grip point, not its origin, lands on the socket.
package attach

import (
	"math"

	"fetchbot.ai/internal/sim/geom"
)

// Frame is a named node in an object's transform hierarchy. Local is
// relative to the parent frame; the root frame's Local is ignored.
type Frame struct {
	Name     string   `yaml:"name" json:"name"`
	Local    Local    `yaml:"local" json:"local"`
	Children []*Frame `yaml:"children,omitempty" json:"children,omitempty"`
}

// Local is the serialized form of a frame offset. Euler angles are degrees.
type Local struct {
	Pos   [3]float64 `yaml:"pos" json:"pos"`
	Euler [3]float64 `yaml:"euler" json:"euler"`
}

func (l Local) Pose() geom.Pose {
	const deg = math.Pi / 180
	return geom.Pose{
		Pos: geom.V(l.Pos[0], l.Pos[1], l.Pos[2]),
		Rot: geom.Euler(l.Euler[0]*deg, l.Euler[1]*deg, l.Euler[2]*deg),
	}
}

// ResolveGrip searches the hierarchy depth-first for name and returns the
// grip pose expressed in the root frame. The root itself may be the grip,
// in which case the identity pose is returned.
func ResolveGrip(root *Frame, name string) (geom.Pose, bool) {
	if root == nil || name == "" {
		return geom.Pose{}, false
	}
	if root.Name == name {
		return geom.IdentityPose, true
	}
	return findGrip(root.Children, geom.IdentityPose, name)
}

func findGrip(children []*Frame, parent geom.Pose, name string) (geom.Pose, bool) {
	for _, c := range children {
		if c == nil {
			continue
		}
		p := parent.Mul(c.Local.Pose())
		if c.Name == name {
			return p, true
		}
		if found, ok := findGrip(c.Children, p, name); ok {
			return found, true
		}
	}
	return geom.Pose{}, false
}

// Result is the solved placement. World is the object's root pose; Local is
// the same pose relative to the socket, which the carrier re-applies every
// tick while the object is held.
type Result struct {
	World geom.Pose
	Local geom.Pose
}

// Solve aligns grip (relative to the object root) to socket. A nil grip
// aligns the object's origin instead.
func Solve(socket geom.Pose, grip *geom.Pose) Result {
	if grip == nil {
		return Result{World: socket, Local: geom.IdentityPose}
	}
	rootRot := socket.Rot.Mul(grip.Rot.Inverse()).Normalize()
	rootPos := socket.Pos.Sub(rootRot.Rotate(grip.Pos))
	world := geom.Pose{Pos: rootPos, Rot: rootRot}
	return Result{
		World: world,
		Local: socket.Inverse().Mul(world),
	}
}

// Follow returns the world pose of an object held at local under socket.
func Follow(socket, local geom.Pose) geom.Pose {
	return socket.Mul(local)
}
