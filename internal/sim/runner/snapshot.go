package runner

import (
	"fetchbot.ai/internal/persistence/snapshot"
	"fetchbot.ai/internal/sim/geom"
)

// Snapshot captures the session as it stands. Loop goroutine only, or
// after Run has returned.
func (r *Runner) Snapshot(sceneName string) snapshot.SessionV1 {
	st := r.ctl.State()
	a := r.world.Motion()
	snap := snapshot.SessionV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			Session: r.cfg.Session,
			Scene:   sceneName,
			Tick:    st.Tick,
		},
		Phase:     st.Phase,
		Remaining: st.Remaining,
		Delivered: st.Delivered,
		Agent: snapshot.AgentV1{
			ID:       string(r.world.AgentID()),
			Pos:      vec(a.Position()),
			Rot:      quat(a.Rotation()),
			Carrying: st.Carrying,
		},
		Cues: r.world.Cues(),
	}
	for _, t := range r.ctl.Pool().Targets() {
		snap.Pending = append(snap.Pending, string(t.ID))
	}
	for _, id := range r.world.BodyIDs() {
		b, ok := r.world.Body(id)
		if !ok {
			continue
		}
		snap.Bodies = append(snap.Bodies, snapshot.BodyV1{
			ID:        string(id),
			Pos:       vec(b.Pose.Pos),
			Rot:       quat(b.Pose.Rot),
			Kinematic: b.Kinematic,
			Asleep:    b.Asleep,
		})
	}
	return snap
}

func vec(v geom.Vec3) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func quat(q geom.Quat) [4]float64 { return [4]float64{q.X, q.Y, q.Z, q.W} }
