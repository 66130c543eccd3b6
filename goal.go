package generic_control_toolbox

import (
	"sync"

	"go.viam.com/rdk/logging"
)

// GoalStatus tracks a goal through the acceptance protocol.
type GoalStatus int

const (
	GoalStatusNone GoalStatus = iota
	GoalStatusPending
	GoalStatusActive
	GoalStatusSucceeded
	GoalStatusAborted
	GoalStatusPreempted
)

func (s GoalStatus) String() string {
	switch s {
	case GoalStatusPending:
		return "pending"
	case GoalStatusActive:
		return "active"
	case GoalStatusSucceeded:
		return "succeeded"
	case GoalStatusAborted:
		return "aborted"
	case GoalStatusPreempted:
		return "preempted"
	default:
		return "none"
	}
}

// GoalServer is the asynchronous task-acceptance protocol a controller binds
// to: goal submission, preemption, feedback streaming and terminal results.
// The controller registers its callbacks once at construction and otherwise
// only consumes this interface; a new goal submitted while one is active
// preempts the active one first.
type GoalServer[G, F, R any] interface {
	// RegisterGoalCallback installs the handler invoked when a new goal is
	// submitted. The handler is expected to call AcceptNewGoal.
	RegisterGoalCallback(cb func())
	// RegisterPreemptCallback installs the handler invoked on external
	// cancellation. The handler is expected to call SetPreempted.
	RegisterPreemptCallback(cb func())
	// AcceptNewGoal transitions the pending goal to active and returns it.
	AcceptNewGoal() (G, error)
	// IsActive reports whether an accepted goal is still running.
	IsActive() bool
	PublishFeedback(feedback F)
	SetSucceeded(result R)
	SetAborted(result R)
	SetPreempted(result R)
}

// SimpleGoalServer is an in-process GoalServer for hosts that dispatch goals
// from their own code rather than over a transport. Goal and preempt
// callbacks run synchronously on the submitting goroutine, outside the
// server's lock, so controllers may call back into the server from them.
type SimpleGoalServer[G, F, R any] struct {
	name   string
	logger logging.Logger

	mu         sync.Mutex
	goalCB     func()
	preemptCB  func()
	pending    *G
	active     bool
	status     GoalStatus
	feedbackCB func(F)
	resultCB   func(GoalStatus, R)
}

func NewSimpleGoalServer[G, F, R any](name string, logger logging.Logger) *SimpleGoalServer[G, F, R] {
	return &SimpleGoalServer[G, F, R]{name: name, logger: logger}
}

func (s *SimpleGoalServer[G, F, R]) RegisterGoalCallback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goalCB = cb
}

func (s *SimpleGoalServer[G, F, R]) RegisterPreemptCallback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preemptCB = cb
}

// OnFeedback installs an observer for published feedback.
func (s *SimpleGoalServer[G, F, R]) OnFeedback(cb func(F)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedbackCB = cb
}

// OnResult installs an observer for terminal results.
func (s *SimpleGoalServer[G, F, R]) OnResult(cb func(GoalStatus, R)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultCB = cb
}

// SendGoal submits a new goal. If a goal is pending or active it is
// preempted first, then the goal callback runs.
func (s *SimpleGoalServer[G, F, R]) SendGoal(goal G) {
	s.mu.Lock()
	preempt := s.preemptCB
	busy := s.active || s.pending != nil
	s.mu.Unlock()

	if busy && preempt != nil {
		preempt()
	}

	s.mu.Lock()
	g := goal
	s.pending = &g
	s.active = false
	s.status = GoalStatusPending
	goalCB := s.goalCB
	s.mu.Unlock()

	if goalCB != nil {
		goalCB()
	}
}

// CancelGoal requests preemption of the pending or active goal. It is a
// no-op when the server is idle.
func (s *SimpleGoalServer[G, F, R]) CancelGoal() {
	s.mu.Lock()
	preempt := s.preemptCB
	busy := s.active || s.pending != nil
	s.mu.Unlock()

	if !busy {
		return
	}
	if preempt != nil {
		preempt()
	}
}

func (s *SimpleGoalServer[G, F, R]) AcceptNewGoal() (G, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		var zero G
		return zero, ErrNoPendingGoal
	}
	goal := *s.pending
	s.pending = nil
	s.active = true
	s.status = GoalStatusActive
	return goal, nil
}

func (s *SimpleGoalServer[G, F, R]) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Status returns the state of the most recent goal.
func (s *SimpleGoalServer[G, F, R]) Status() GoalStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SimpleGoalServer[G, F, R]) PublishFeedback(feedback F) {
	s.mu.Lock()
	cb := s.feedbackCB
	s.mu.Unlock()
	if cb != nil {
		cb(feedback)
	}
}

func (s *SimpleGoalServer[G, F, R]) SetSucceeded(result R) {
	s.finish(GoalStatusSucceeded, result)
}

func (s *SimpleGoalServer[G, F, R]) SetAborted(result R) {
	s.finish(GoalStatusAborted, result)
}

func (s *SimpleGoalServer[G, F, R]) SetPreempted(result R) {
	s.finish(GoalStatusPreempted, result)
}

func (s *SimpleGoalServer[G, F, R]) finish(status GoalStatus, result R) {
	s.mu.Lock()
	if !s.active && s.pending == nil {
		s.mu.Unlock()
		s.logger.Debugf("%s: terminal result %v with no goal in flight", s.name, status)
		return
	}
	s.pending = nil
	s.active = false
	s.status = status
	cb := s.resultCB
	s.mu.Unlock()

	if cb != nil {
		cb(status, result)
	}
}
