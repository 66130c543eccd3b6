package generic_control_toolbox

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Wrench is a force/torque pair expressed in some named frame.
type Wrench struct {
	Force  r3.Vector
	Torque r3.Vector
}

// WrenchSample is a raw sensor reading tagged with the frame it was
// measured in.
type WrenchSample struct {
	Frame  string
	Wrench Wrench
}

// Vector6 flattens the wrench to (fx, fy, fz, tx, ty, tz).
func (w Wrench) Vector6() []float64 {
	return []float64{w.Force.X, w.Force.Y, w.Force.Z, w.Torque.X, w.Torque.Y, w.Torque.Z}
}

func wrenchFromVector6(v []float64) Wrench {
	return Wrench{
		Force:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Torque: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}
}

// applyCalibration maps a raw reading through a sensor's 6x6 intrinsic
// calibration matrix.
func applyCalibration(c *mat.Dense, w Wrench) Wrench {
	var out mat.VecDense
	out.MulVec(c, mat.NewVecDense(6, w.Vector6()))
	return wrenchFromVector6(out.RawVector().Data)
}

func rotateVector(o spatialmath.Orientation, v r3.Vector) r3.Vector {
	q := o.Quaternion()
	rot := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rot.Imag, Y: rot.Jmag, Z: rot.Kmag}
}

// transformWrench re-expresses a wrench measured at the pose's source frame
// in the pose's target frame: the force rotates, the torque rotates and picks
// up the lever-arm contribution of the shifted application point.
func transformWrench(p spatialmath.Pose, w Wrench) Wrench {
	force := rotateVector(p.Orientation(), w.Force)
	torque := rotateVector(p.Orientation(), w.Torque).Add(p.Point().Cross(force))
	return Wrench{Force: force, Torque: torque}
}
