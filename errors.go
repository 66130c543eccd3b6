package generic_control_toolbox

import "github.com/pkg/errors"

// Sentinel errors for registration and query failures. Callers match them
// with errors.Is; wrapped forms carry the offending names.
var (
	ErrDuplicateRegistration = errors.New("end-effector already registered")
	ErrDuplicateSensorFrame  = errors.New("sensor frame already registered")
	ErrUnknownEndEffector    = errors.New("end-effector not registered")
	ErrTransformUnavailable  = errors.New("transform resolution attempts exhausted")
	ErrMissingCalibration    = errors.New("missing calibration matrix")
	ErrBadCalibrationShape   = errors.New("calibration matrix must be 6x6")
	ErrNoPendingGoal         = errors.New("no pending goal to accept")
)
