package attach

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"fetchbot.ai/internal/sim/geom"
)

const eps = 1e-9

func bottle() *Frame {
	return &Frame{
		Name: "Potion",
		Children: []*Frame{
			{Name: "Mesh"},
			{
				Name:  "Neck",
				Local: Local{Pos: [3]float64{0, 0.2, 0}, Euler: [3]float64{0, 90, 0}},
				Children: []*Frame{
					{Name: "GripPoint", Local: Local{Pos: [3]float64{0.05, 0.03, 0}, Euler: [3]float64{0, 0, 90}}},
				},
			},
		},
	}
}

func TestResolveGripNested(t *testing.T) {
	g, ok := ResolveGrip(bottle(), "GripPoint")
	require.True(t, ok)

	want := Local{Pos: [3]float64{0, 0.2, 0}, Euler: [3]float64{0, 90, 0}}.Pose().
		Mul(Local{Pos: [3]float64{0.05, 0.03, 0}, Euler: [3]float64{0, 0, 90}}.Pose())
	require.True(t, g.ApproxEqual(want, eps), "got %+v want %+v", g, want)
}

func TestResolveGripMissing(t *testing.T) {
	_, ok := ResolveGrip(bottle(), "Handle")
	require.False(t, ok)
	_, ok = ResolveGrip(nil, "GripPoint")
	require.False(t, ok)
	_, ok = ResolveGrip(bottle(), "")
	require.False(t, ok)
}

func TestSolveWithoutGripIsIdentity(t *testing.T) {
	socket := geom.Pose{Pos: geom.V(1, 0.9, 2.5), Rot: geom.Yaw(0.8)}
	res := Solve(socket, nil)
	require.Equal(t, geom.IdentityPose, res.Local)
	require.True(t, res.World.ApproxEqual(socket, eps))
}

func TestSolveGripLandsOnSocket(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	rnd := func(s float64) float64 { return (r.Float64()*2 - 1) * s }

	for i := 0; i < 200; i++ {
		grip := geom.Pose{
			Pos: geom.V(rnd(0.5), rnd(0.5), rnd(0.5)),
			Rot: geom.Euler(rnd(math.Pi), rnd(math.Pi), rnd(math.Pi)),
		}
		socket := geom.Pose{
			Pos: geom.V(rnd(50), rnd(5), rnd(50)),
			Rot: geom.Euler(rnd(math.Pi), rnd(math.Pi), rnd(math.Pi)),
		}

		res := Solve(socket, &grip)
		gripWorld := res.World.Mul(grip)
		require.True(t, gripWorld.Pos.ApproxEqual(socket.Pos, 1e-9), "iteration %d: grip at %+v, socket at %+v", i, gripWorld.Pos, socket.Pos)
		require.True(t, gripWorld.Rot.ApproxEqual(socket.Rot, 1e-9), "iteration %d: rotation mismatch", i)

		// Re-parenting must not move the object.
		require.True(t, Follow(socket, res.Local).ApproxEqual(res.World, 1e-9), "iteration %d", i)
	}
}

func TestFollowTracksMovingSocket(t *testing.T) {
	grip, ok := ResolveGrip(bottle(), "GripPoint")
	require.True(t, ok)

	res := Solve(geom.Pose{Pos: geom.V(0, 1, 0), Rot: geom.Identity}, &grip)
	moved := geom.Pose{Pos: geom.V(10, 1.2, -3), Rot: geom.Yaw(2)}
	root := Follow(moved, res.Local)
	require.True(t, root.Mul(grip).Pos.ApproxEqual(moved.Pos, 1e-9))
}
