package generic_control_toolbox

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// wrenchChannel is the per-end-effector record: calibration and static
// transform are fixed at registration, the measured wrench is overwritten
// by every incoming sample.
type wrenchChannel struct {
	endEffector   string
	sensorFrame   string
	grippingFrame string
	calibration   *mat.Dense
	sensorToGrip  spatialmath.Pose
	unsubscribe   func()

	// guards measured against torn reads; samples and queries arrive on
	// different goroutines
	mu       sync.Mutex
	measured Wrench
}

// WrenchManager registers end-effector wrench channels, ingests raw sensor
// samples and serves calibrated wrench queries in sensor-frame or
// gripping-point-frame coordinates.
type WrenchManager struct {
	params    Parameters
	resolver  FrameResolver
	calib     CalibrationSource
	stream    WrenchStream
	publisher ProcessedWrenchPublisher // optional
	logger    logging.Logger

	mu       sync.RWMutex
	channels map[string]*wrenchChannel
	ordered  []*wrenchChannel // registration order, for sensor-frame matching
}

// NewWrenchManager builds a manager around its collaborators. The publisher
// may be nil when processed-wrench observability is not wanted.
func NewWrenchManager(
	params Parameters,
	resolver FrameResolver,
	calib CalibrationSource,
	stream WrenchStream,
	publisher ProcessedWrenchPublisher,
	logger logging.Logger,
) (*WrenchManager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, errors.New("wrench manager requires a frame resolver")
	}
	if calib == nil {
		return nil, errors.New("wrench manager requires a calibration source")
	}
	if stream == nil {
		return nil, errors.New("wrench manager requires a sample stream")
	}

	return &WrenchManager{
		params:    params,
		resolver:  resolver,
		calib:     calib,
		stream:    stream,
		publisher: publisher,
		logger:    logger,
		channels:  make(map[string]*wrenchChannel),
	}, nil
}

// InitializeWrenchComm registers a wrench channel for endEffector. It
// resolves the sensor -> gripping-point transform with bounded retry, loads
// and shape-checks the calibration matrix, subscribes to sensorTopic and only
// then commits the channel. Any failure leaves the manager unchanged.
func (m *WrenchManager) InitializeWrenchComm(
	ctx context.Context,
	endEffector, sensorFrame, grippingFrame, sensorTopic, calibKey string,
) error {
	m.mu.RLock()
	_, taken := m.channels[endEffector]
	frameTaken := m.channelForFrameLocked(sensorFrame) != nil
	m.mu.RUnlock()
	if taken {
		return errors.Wrapf(ErrDuplicateRegistration, "end-effector %q", endEffector)
	}
	if frameTaken {
		return errors.Wrapf(ErrDuplicateSensorFrame, "sensor frame %q", sensorFrame)
	}

	// Blocking bounded retry; runs before any state is committed and never
	// on the control loop's hot path.
	pose, err := resolveTransform(ctx, m.resolver, sensorFrame, grippingFrame, m.params, m.logger)
	if err != nil {
		m.logger.Errorf("could not find the transform between sensor frame %q and gripping point %q: %v",
			sensorFrame, grippingFrame, err)
		return err
	}

	c, ok := m.calib.Lookup(calibKey)
	if !ok {
		return errors.Wrapf(ErrMissingCalibration, "parameter %q", calibKey)
	}
	rows, cols := c.Dims()
	if rows != 6 || cols != 6 {
		return errors.Wrapf(ErrBadCalibrationShape, "parameter %q is %dx%d", calibKey, rows, cols)
	}

	ch := &wrenchChannel{
		endEffector:   endEffector,
		sensorFrame:   sensorFrame,
		grippingFrame: grippingFrame,
		calibration:   c,
		sensorToGrip:  pose,
	}

	// Subscribe before committing so a committed channel always carries its
	// unsubscribe func and Close can release it. Samples arriving before the
	// commit are dropped as coming from an unregistered frame.
	unsubscribe, err := m.stream.Subscribe(sensorTopic, m.ingest)
	if err != nil {
		return errors.Wrapf(err, "subscribing to %q", sensorTopic)
	}
	ch.unsubscribe = unsubscribe

	m.mu.Lock()
	if _, exists := m.channels[endEffector]; exists {
		m.mu.Unlock()
		unsubscribe()
		return errors.Wrapf(ErrDuplicateRegistration, "end-effector %q", endEffector)
	}
	if m.channelForFrameLocked(sensorFrame) != nil {
		m.mu.Unlock()
		unsubscribe()
		return errors.Wrapf(ErrDuplicateSensorFrame, "sensor frame %q", sensorFrame)
	}
	m.channels[endEffector] = ch
	m.ordered = append(m.ordered, ch)
	m.mu.Unlock()

	m.logger.Infof("registered wrench channel for %q (sensor %q -> gripping point %q, topic %q)",
		endEffector, sensorFrame, grippingFrame, sensorTopic)
	return nil
}

// RegisterArm registers a wrench channel from a declarative arm description.
// An arm without an F/T sensor is valid and registers nothing. The
// calibration key is derived from the arm name.
func (m *WrenchManager) RegisterArm(ctx context.Context, info ArmInfo) error {
	if !info.HasFTSensor {
		m.logger.Warnf("end-effector %q has no F/T sensor", info.EndEffector)
		return nil
	}

	if err := m.InitializeWrenchComm(ctx, info.EndEffector, info.SensorFrame,
		info.GrippingFrame, info.SensorTopic, info.Name+"/sensor_calib"); err != nil {
		return err
	}

	m.logger.Debugf("successfully initialized wrench comms for arm %q", info.Name)
	return nil
}

// WrenchAtSensorPoint returns the most recent calibrated wrench in
// sensor-frame coordinates.
func (m *WrenchManager) WrenchAtSensorPoint(endEffector string) (Wrench, error) {
	ch, err := m.channel(endEffector)
	if err != nil {
		return Wrench{}, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.measured, nil
}

// WrenchAtGrippingPoint transforms the calibrated sensor-frame wrench to
// gripping-point-frame coordinates. The transformed wrench is also published
// for observability when a publisher is configured.
func (m *WrenchManager) WrenchAtGrippingPoint(endEffector string) (Wrench, error) {
	ch, err := m.channel(endEffector)
	if err != nil {
		return Wrench{}, err
	}

	ch.mu.Lock()
	measured := ch.measured
	ch.mu.Unlock()

	w := transformWrench(ch.sensorToGrip, measured)
	if m.publisher != nil {
		m.publisher.PublishWrench(ch.grippingFrame, w)
	}
	return w, nil
}

// EndEffectors returns the registered end-effector names, sorted.
func (m *WrenchManager) EndEffectors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unsubscribes every channel and drops all state.
func (m *WrenchManager) Close() {
	m.mu.Lock()
	unsubs := make([]func(), 0, len(m.ordered))
	for _, ch := range m.ordered {
		if ch.unsubscribe != nil {
			unsubs = append(unsubs, ch.unsubscribe)
		}
	}
	m.channels = make(map[string]*wrenchChannel)
	m.ordered = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// ingest routes one raw sample to the channel registered for its source
// frame, applies the calibration and overwrites the cached wrench. Samples
// from unregistered frames are reported and dropped.
func (m *WrenchManager) ingest(sample WrenchSample) {
	m.mu.RLock()
	ch := m.channelForFrameLocked(sample.Frame)
	m.mu.RUnlock()

	if ch == nil {
		m.logger.Errorf("got wrench sample from frame %q, which is not configured in the wrench manager", sample.Frame)
		return
	}

	w := applyCalibration(ch.calibration, sample.Wrench)
	ch.mu.Lock()
	ch.measured = w
	ch.mu.Unlock()
}

func (m *WrenchManager) channel(endEffector string) (*wrenchChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[endEffector]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEndEffector, "%q", endEffector)
	}
	return ch, nil
}

// channelForFrameLocked scans in registration order; frames are unique by
// construction, so the first match is the only one.
func (m *WrenchManager) channelForFrameLocked(frame string) *wrenchChannel {
	for _, ch := range m.ordered {
		if ch.sensorFrame == frame {
			return ch
		}
	}
	return nil
}
