// Package geom holds the small amount of 3D math the controller needs.
// Convention: right-handed, +Y up, +Z forward.
package geom

import "math"

type Vec3 struct{ X, Y, Z float64 }

var (
	Zero    = Vec3{}
	Up      = Vec3{Y: 1}
	Down    = Vec3{Y: -1}
	Forward = Vec3{Z: 1}
)

func V(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Len() float64         { return math.Sqrt(a.Dot(a)) }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

// Normalize returns the zero vector for degenerate input.
func (a Vec3) Normalize() Vec3 {
	l := a.Len()
	if l < 1e-12 {
		return Zero
	}
	return a.Scale(1 / l)
}

// Flat drops the vertical component.
func (a Vec3) Flat() Vec3 { return Vec3{X: a.X, Z: a.Z} }

func Dist(a, b Vec3) float64 { return a.Sub(b).Len() }

// PlanarDist ignores the vertical offset between a and b.
func PlanarDist(a, b Vec3) float64 { return a.Flat().Sub(b.Flat()).Len() }

func (a Vec3) ApproxEqual(b Vec3, eps float64) bool {
	return math.Abs(a.X-b.X) <= eps && math.Abs(a.Y-b.Y) <= eps && math.Abs(a.Z-b.Z) <= eps
}

// Quat is a unit quaternion (W is the scalar part).
type Quat struct{ X, Y, Z, W float64 }

var Identity = Quat{W: 1}

func AxisAngle(axis Vec3, rad float64) Quat {
	n := axis.Normalize()
	s := math.Sin(rad / 2)
	return Quat{X: n.X * s, Y: n.Y * s, Z: n.Z * s, W: math.Cos(rad / 2)}
}

// Yaw returns a rotation about +Y by rad.
func Yaw(rad float64) Quat { return AxisAngle(Up, rad) }

// Euler builds a rotation from pitch (X), yaw (Y) and roll (Z) radians,
// applied roll first, then pitch, then yaw.
func Euler(pitch, yaw, roll float64) Quat {
	return Yaw(yaw).Mul(AxisAngle(Vec3{X: 1}, pitch)).Mul(AxisAngle(Forward, roll))
}

func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Inverse assumes q is normalized.
func (q Quat) Inverse() Quat { return Quat{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W} }

func (q Quat) Normalize() Quat {
	l := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if l < 1e-12 {
		return Identity
	}
	return Quat{X: q.X / l, Y: q.Y / l, Z: q.Z / l, W: q.W / l}
}

func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

func (q Quat) Forward() Vec3 { return q.Rotate(Forward) }

// ApproxEqual treats q and -q as the same rotation.
func (q Quat) ApproxEqual(r Quat, eps float64) bool {
	d := math.Abs(q.X*r.X + q.Y*r.Y + q.Z*r.Z + q.W*r.W)
	return 1-d <= eps
}

// LookFlat returns a yaw-only rotation whose forward points along dir with
// the vertical component removed. ok is false when dir has no planar part.
func LookFlat(dir Vec3) (Quat, bool) {
	f := dir.Flat()
	if f.Len() < 1e-9 {
		return Identity, false
	}
	return Yaw(math.Atan2(f.X, f.Z)), true
}

// Pose is a rigid transform: rotate, then translate.
type Pose struct {
	Pos Vec3
	Rot Quat
}

var IdentityPose = Pose{Rot: Identity}

func (p Pose) Mul(child Pose) Pose {
	return Pose{
		Pos: p.Pos.Add(p.Rot.Rotate(child.Pos)),
		Rot: p.Rot.Mul(child.Rot).Normalize(),
	}
}

func (p Pose) Inverse() Pose {
	inv := p.Rot.Inverse()
	return Pose{Pos: inv.Rotate(p.Pos.Scale(-1)), Rot: inv}
}

func (p Pose) TransformPoint(v Vec3) Vec3 { return p.Pos.Add(p.Rot.Rotate(v)) }

func (p Pose) InverseTransformPoint(v Vec3) Vec3 { return p.Rot.Inverse().Rotate(v.Sub(p.Pos)) }

func (p Pose) Forward() Vec3 { return p.Rot.Forward() }

func (p Pose) ApproxEqual(o Pose, eps float64) bool {
	return p.Pos.ApproxEqual(o.Pos, eps) && p.Rot.ApproxEqual(o.Rot, eps)
}
