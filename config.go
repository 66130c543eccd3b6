package generic_control_toolbox

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultMaxTransformAttempts = 5
	defaultTransformRetryDelay  = 100 * time.Millisecond
	defaultMaxUpdateInterval    = 500 * time.Millisecond
)

// Parameters collects the externally supplied tuning shared by the
// controller lifecycle and the wrench manager. The zero value validates to
// the defaults.
type Parameters struct {
	// MaxTransformAttempts bounds the retries when resolving a sensor ->
	// gripping-point transform at registration (default: 5).
	MaxTransformAttempts int
	// TransformRetryDelay is the wait between attempts (default: 100ms).
	TransformRetryDelay time.Duration
	// MaxUpdateInterval is the staleness threshold: a control update whose
	// elapsed time strictly exceeds it aborts the active goal
	// (default: 500ms).
	MaxUpdateInterval time.Duration
}

// Validate fills defaults and rejects nonsensical values.
func (p *Parameters) Validate() error {
	if p.MaxTransformAttempts == 0 {
		p.MaxTransformAttempts = defaultMaxTransformAttempts
	}
	if p.MaxTransformAttempts < 0 {
		return errors.Errorf("max transform attempts must be positive, got %d", p.MaxTransformAttempts)
	}
	if p.TransformRetryDelay == 0 {
		p.TransformRetryDelay = defaultTransformRetryDelay
	}
	if p.TransformRetryDelay < 0 {
		return errors.Errorf("transform retry delay must be positive, got %v", p.TransformRetryDelay)
	}
	if p.MaxUpdateInterval == 0 {
		p.MaxUpdateInterval = defaultMaxUpdateInterval
	}
	if p.MaxUpdateInterval < 0 {
		return errors.Errorf("max update interval must be positive, got %v", p.MaxUpdateInterval)
	}
	return nil
}

// CalibrationSource supplies per-sensor intrinsic calibration matrices by
// configuration key. Absent keys return ok=false; shape is checked at
// registration, not here.
type CalibrationSource interface {
	Lookup(key string) (*mat.Dense, bool)
}

// StaticCalibrationSource is a map-backed CalibrationSource.
type StaticCalibrationSource struct {
	mu       sync.RWMutex
	matrices map[string]*mat.Dense
}

func NewStaticCalibrationSource() *StaticCalibrationSource {
	return &StaticCalibrationSource{matrices: make(map[string]*mat.Dense)}
}

// Set stores a matrix under key from row-major rows. Ragged rows are
// rejected; any rectangular shape (including empty) is stored as-is so the
// registration gate stays the single authority on dimensions.
func (s *StaticCalibrationSource) Set(key string, rows [][]float64) error {
	var m *mat.Dense
	if len(rows) == 0 || len(rows[0]) == 0 {
		m = &mat.Dense{}
	} else {
		cols := len(rows[0])
		data := make([]float64, 0, len(rows)*cols)
		for i, row := range rows {
			if len(row) != cols {
				return errors.Errorf("calibration %q: row %d has %d values, expected %d", key, i, len(row), cols)
			}
			data = append(data, row...)
		}
		m = mat.NewDense(len(rows), cols, data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[key] = m
	return nil
}

func (s *StaticCalibrationSource) Lookup(key string) (*mat.Dense, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.matrices[key]
	return m, ok
}

// IdentityCalibration returns the 6x6 identity, the calibration of a sensor
// whose raw readings are already trusted.
func IdentityCalibration() *mat.Dense {
	m := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// ParameterSource exposes the externally loaded configuration tree the
// declarative arm descriptions are read from.
type ParameterSource interface {
	GetString(key string) (string, bool)
	GetBool(key string) (bool, bool)
}

// StaticParameterSource is a map-backed ParameterSource.
type StaticParameterSource map[string]interface{}

func (s StaticParameterSource) GetString(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

func (s StaticParameterSource) GetBool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// ArmInfo is the declarative description of one arm's sensing setup.
// Absence of an F/T sensor is a valid configuration, not an error.
type ArmInfo struct {
	Name          string
	EndEffector   string
	GrippingFrame string
	SensorFrame   string
	SensorTopic   string
	HasFTSensor   bool
}

// LoadArmInfo reads an arm description rooted at name from src. Every field
// is required; a missing key fails with its full path named.
func LoadArmInfo(name string, src ParameterSource) (ArmInfo, error) {
	info := ArmInfo{Name: name}

	var ok bool
	if info.EndEffector, ok = src.GetString(name + "/end_effector_frame"); !ok {
		return ArmInfo{}, errors.Errorf("missing end-effector frame (%s/end_effector_frame)", name)
	}
	if info.GrippingFrame, ok = src.GetString(name + "/gripping_frame"); !ok {
		return ArmInfo{}, errors.Errorf("missing gripping frame (%s/gripping_frame)", name)
	}
	if info.HasFTSensor, ok = src.GetBool(name + "/has_ft_sensor"); !ok {
		return ArmInfo{}, errors.Errorf("missing sensor info (%s/has_ft_sensor)", name)
	}
	if info.SensorFrame, ok = src.GetString(name + "/sensor_frame"); !ok {
		return ArmInfo{}, errors.Errorf("missing sensor info (%s/sensor_frame)", name)
	}
	if info.SensorTopic, ok = src.GetString(name + "/sensor_topic"); !ok {
		return ArmInfo{}, errors.Errorf("missing sensor info (%s/sensor_topic)", name)
	}

	return info, nil
}
