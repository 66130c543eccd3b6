package generic_control_toolbox

import (
	"math"
	"sync"
	"time"

	"go.viam.com/rdk/logging"
)

// Controller is the uniform surface a control loop drives, regardless of the
// wrapped algorithm's complexity.
type Controller interface {
	// UpdateControl computes the desired joint state for the elapsed time dt
	// since the previous invocation. It always returns a usable state: when
	// no goal is active, or a fault is absorbed, the last commanded position
	// is held with zero velocity.
	UpdateControl(current JointState, dt time.Duration) JointState
	// IsActive reports whether a goal is being actively controlled.
	IsActive() bool
	// ResetInternalState clears acquisition flags and the algorithm's own
	// state. Always safe to call.
	ResetInternalState()
}

// ControlPolicy supplies the algorithm-specific pieces the lifecycle wrapper
// delegates to. Implementations are invoked under the wrapper's lock and
// need no synchronization of their own against it.
type ControlPolicy[G, F, R any] interface {
	// ParseGoal validates and ingests a new goal payload. An error rejects
	// the goal without touching controller state.
	ParseGoal(goal G) error
	// ControlAlgorithm computes the desired joint state.
	ControlAlgorithm(current JointState, dt time.Duration) JointState
	// Feedback returns the payload to publish after each control step.
	Feedback() F
	// Result returns the payload attached to terminal goal states.
	Result() R
	// ResetController restores the algorithm's default state.
	ResetController()
}

// ControllerTemplate wraps a ControlPolicy with goal management, staleness
// detection and output validation. One instance owns exactly one GoalServer
// binding for its lifetime.
type ControllerTemplate[G, F, R any] struct {
	name   string
	policy ControlPolicy[G, F, R]
	server GoalServer[G, F, R]
	logger logging.Logger

	maxUpdateInterval time.Duration

	// guards the cached state and flags against goal/preempt callbacks
	// racing an in-flight update
	mu           sync.Mutex
	lastState    JointState
	hasState     bool
	acquiredGoal bool
}

func NewControllerTemplate[G, F, R any](
	name string,
	policy ControlPolicy[G, F, R],
	server GoalServer[G, F, R],
	params Parameters,
	logger logging.Logger,
) (*ControllerTemplate[G, F, R], error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ct := &ControllerTemplate[G, F, R]{
		name:              name,
		policy:            policy,
		server:            server,
		logger:            logger,
		maxUpdateInterval: params.MaxUpdateInterval,
	}
	server.RegisterGoalCallback(ct.goalCallback)
	server.RegisterPreemptCallback(ct.preemptCallback)

	logger.Infof("%s initialized successfully", name)
	return ct, nil
}

func (ct *ControllerTemplate[G, F, R]) UpdateControl(current JointState, dt time.Duration) JointState {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.server.IsActive() || !ct.acquiredGoal {
		return ct.lastStateLocked(current)
	}

	if dt > ct.maxUpdateInterval {
		// communication loss: the update cadence collapsed under us
		ct.logger.Errorf("%s did not receive updates for more than %v, aborting", ct.name, ct.maxUpdateInterval)
		ct.server.SetAborted(ct.policy.Result())
		return ct.lastStateLocked(current)
	}

	ret := ct.policy.ControlAlgorithm(current, dt)
	ct.server.PublishFeedback(ct.policy.Feedback())

	if !ct.server.IsActive() {
		ct.resetInternalStateLocked()
	}

	for _, values := range [][]float64{ret.Position, ret.Velocity} {
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				ct.logger.Errorf("invalid joint states in %s, holding last state", ct.name)
				return ct.lastStateLocked(current)
			}
		}
	}

	return ret
}

func (ct *ControllerTemplate[G, F, R]) IsActive() bool {
	return ct.server.IsActive()
}

func (ct *ControllerTemplate[G, F, R]) ResetInternalState() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.resetInternalStateLocked()
}

func (ct *ControllerTemplate[G, F, R]) resetInternalStateLocked() {
	ct.hasState = false
	ct.acquiredGoal = false
	ct.policy.ResetController()
}

// lastStateLocked returns a copy of the held joint state, seeding it from
// current (with zeroed velocities) on the first valid call. Returning a copy
// keeps callers that mutate the command buffer from corrupting the cache; an
// invalid current state never corrupts it either.
func (ct *ControllerTemplate[G, F, R]) lastStateLocked(current JointState) JointState {
	if !current.Valid() {
		ct.logger.Warnf("%s got invalid current state", ct.name)
		return ct.lastState.Clone()
	}

	if !ct.hasState {
		ct.lastState = current.Clone()
		for i := range ct.lastState.Velocity {
			ct.lastState.Velocity[i] = 0
		}
		ct.hasState = true
	}

	return ct.lastState.Clone()
}

func (ct *ControllerTemplate[G, F, R]) goalCallback() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	goal, err := ct.server.AcceptNewGoal()
	if err != nil {
		ct.logger.Warnf("%s could not accept goal: %v", ct.name, err)
		return
	}

	if err := ct.policy.ParseGoal(goal); err != nil {
		ct.logger.Errorf("%s rejected goal: %v", ct.name, err)
		ct.server.SetAborted(ct.policy.Result())
		return
	}

	ct.acquiredGoal = true
	ct.logger.Infof("New goal received in %s", ct.name)
}

func (ct *ControllerTemplate[G, F, R]) preemptCallback() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.server.SetPreempted(ct.policy.Result())
	ct.logger.Warnf("%s preempted", ct.name)
	ct.resetInternalStateLocked()
}
