package generic_control_toolbox

// JointState is an ordered set of named joints with their positions and
// velocities (and optionally efforts). The parallel slices are index-aligned;
// an empty state represents "no valid reading".
type JointState struct {
	Name     []string
	Position []float64
	Velocity []float64
	Effort   []float64
}

// Valid reports whether the state carries a usable reading: a non-empty
// position slice with every other non-empty slice aligned to it.
func (js JointState) Valid() bool {
	n := len(js.Position)
	if n == 0 {
		return false
	}
	if len(js.Name) != 0 && len(js.Name) != n {
		return false
	}
	if len(js.Velocity) != 0 && len(js.Velocity) != n {
		return false
	}
	if len(js.Effort) != 0 && len(js.Effort) != n {
		return false
	}
	return true
}

// Clone deep-copies the state so callers can mutate the result freely.
func (js JointState) Clone() JointState {
	out := JointState{}
	if js.Name != nil {
		out.Name = append([]string(nil), js.Name...)
	}
	if js.Position != nil {
		out.Position = append([]float64(nil), js.Position...)
	}
	if js.Velocity != nil {
		out.Velocity = append([]float64(nil), js.Velocity...)
	}
	if js.Effort != nil {
		out.Effort = append([]float64(nil), js.Effort...)
	}
	return out
}
