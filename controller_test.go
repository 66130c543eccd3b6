package generic_control_toolbox

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

type testGoal struct {
	Target float64
	Bad    bool
}

type testFeedback struct {
	Progress float64
}

type testResult struct {
	Reached bool
}

// testPolicy drives the lifecycle with a canned output. onControl, when set,
// runs inside ControlAlgorithm so tests can complete goals mid-update.
type testPolicy struct {
	target    float64
	output    JointState
	onControl func()
	calls     int
	resets    int
}

func (p *testPolicy) ParseGoal(g testGoal) error {
	if g.Bad {
		return errors.New("unparseable goal")
	}
	p.target = g.Target
	return nil
}

func (p *testPolicy) ControlAlgorithm(current JointState, dt time.Duration) JointState {
	p.calls++
	if p.onControl != nil {
		p.onControl()
	}
	return p.output.Clone()
}

func (p *testPolicy) Feedback() testFeedback {
	return testFeedback{Progress: p.target}
}

func (p *testPolicy) Result() testResult {
	return testResult{}
}

func (p *testPolicy) ResetController() {
	p.resets++
}

func twoJointState(p1, p2, v1, v2 float64) JointState {
	return JointState{
		Name:     []string{"shoulder", "elbow"},
		Position: []float64{p1, p2},
		Velocity: []float64{v1, v2},
	}
}

func newTestController(t *testing.T) (*ControllerTemplate[testGoal, testFeedback, testResult], *SimpleGoalServer[testGoal, testFeedback, testResult], *testPolicy) {
	t.Helper()
	logger := logging.NewTestLogger(t)
	server := NewSimpleGoalServer[testGoal, testFeedback, testResult]("test_controller", logger)
	policy := &testPolicy{output: twoJointState(0.5, -0.5, 0.1, -0.1)}

	ct, err := NewControllerTemplate[testGoal, testFeedback, testResult](
		"test_controller", policy, server, Parameters{}, logger)
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}
	return ct, server, policy
}

func assertStatesEqual(t *testing.T, got, want JointState) {
	t.Helper()
	if len(got.Position) != len(want.Position) || len(got.Velocity) != len(want.Velocity) {
		t.Fatalf("state shape mismatch: got %+v, want %+v", got, want)
	}
	for i := range want.Position {
		if got.Position[i] != want.Position[i] {
			t.Errorf("position[%d] = %v, want %v", i, got.Position[i], want.Position[i])
		}
	}
	for i := range want.Velocity {
		if got.Velocity[i] != want.Velocity[i] {
			t.Errorf("velocity[%d] = %v, want %v", i, got.Velocity[i], want.Velocity[i])
		}
	}
}

func TestIdleHold(t *testing.T) {
	ct, _, policy := newTestController(t)

	first := twoJointState(1, 2, 3, 4)
	held := twoJointState(1, 2, 0, 0)

	got := ct.UpdateControl(first, 10*time.Millisecond)
	assertStatesEqual(t, got, held)

	// the held position survives arbitrary later readings
	for _, p := range []float64{9, -3, 100} {
		got = ct.UpdateControl(twoJointState(p, p, p, p), 10*time.Millisecond)
		assertStatesEqual(t, got, held)
	}

	if policy.calls != 0 {
		t.Errorf("algorithm invoked %d times while idle", policy.calls)
	}
}

func TestHeldStateIsolatedFromCaller(t *testing.T) {
	ct, _, _ := newTestController(t)

	got := ct.UpdateControl(twoJointState(1, 2, 3, 4), 10*time.Millisecond)
	assertStatesEqual(t, got, twoJointState(1, 2, 0, 0))

	// mutating the returned command buffer must not touch the cache
	got.Position[0] = 999
	got.Velocity[1] = -999

	got = ct.UpdateControl(twoJointState(9, 9, 9, 9), 10*time.Millisecond)
	assertStatesEqual(t, got, twoJointState(1, 2, 0, 0))
}

func TestIdleHoldInvalidCurrentState(t *testing.T) {
	ct, _, _ := newTestController(t)

	// nothing cached yet: an invalid reading yields the zero state
	got := ct.UpdateControl(JointState{}, 10*time.Millisecond)
	if got.Valid() {
		t.Errorf("expected invalid state before any valid reading, got %+v", got)
	}

	// a valid reading seeds the cache; a later invalid one must not clear it
	ct.UpdateControl(twoJointState(1, 2, 3, 4), 10*time.Millisecond)
	got = ct.UpdateControl(JointState{}, 10*time.Millisecond)
	assertStatesEqual(t, got, twoJointState(1, 2, 0, 0))
}

func TestInvalidGoalAborted(t *testing.T) {
	ct, server, policy := newTestController(t)

	server.SendGoal(testGoal{Bad: true})

	if got := server.Status(); got != GoalStatusAborted {
		t.Errorf("goal status = %v, want aborted", got)
	}
	if ct.IsActive() {
		t.Error("controller active after rejected goal")
	}
	if policy.target != 0 {
		t.Errorf("rejected goal mutated policy target to %v", policy.target)
	}
}

func TestStalenessAbortsGoal(t *testing.T) {
	ct, server, policy := newTestController(t)

	held := twoJointState(1, 2, 0, 0)
	ct.UpdateControl(twoJointState(1, 2, 3, 4), 10*time.Millisecond)

	server.SendGoal(testGoal{Target: 1})
	if !ct.IsActive() {
		t.Fatal("goal not active after submission")
	}

	got := ct.UpdateControl(twoJointState(5, 6, 7, 8), time.Second)
	assertStatesEqual(t, got, held)

	if got := server.Status(); got != GoalStatusAborted {
		t.Errorf("goal status = %v, want aborted", got)
	}
	if ct.IsActive() {
		t.Error("controller still active after staleness abort")
	}
	if policy.calls != 0 {
		t.Error("algorithm ran despite stale input")
	}
}

func TestStalenessBoundary(t *testing.T) {
	ct, server, policy := newTestController(t)
	server.SendGoal(testGoal{Target: 1})

	// dt exactly at the threshold must not abort
	got := ct.UpdateControl(twoJointState(1, 2, 0, 0), defaultMaxUpdateInterval)

	if policy.calls != 1 {
		t.Fatalf("algorithm invoked %d times, want 1", policy.calls)
	}
	if got := server.Status(); got != GoalStatusActive {
		t.Errorf("goal status = %v, want active", got)
	}
	assertStatesEqual(t, got, policy.output)
}

func TestNonFiniteOutputHeld(t *testing.T) {
	for name, bad := range map[string]JointState{
		"velocity NaN":  twoJointState(0.5, -0.5, math.NaN(), 0),
		"position NaN":  twoJointState(math.NaN(), -0.5, 0, 0),
		"position +Inf": twoJointState(math.Inf(1), -0.5, 0, 0),
	} {
		t.Run(name, func(t *testing.T) {
			ct, server, policy := newTestController(t)

			held := twoJointState(1, 2, 0, 0)
			ct.UpdateControl(twoJointState(1, 2, 3, 4), 10*time.Millisecond)

			var feedbacks []testFeedback
			server.OnFeedback(func(f testFeedback) { feedbacks = append(feedbacks, f) })

			server.SendGoal(testGoal{Target: 1})
			policy.output = bad

			got := ct.UpdateControl(twoJointState(5, 6, 0, 0), 10*time.Millisecond)
			assertStatesEqual(t, got, held)

			if !ct.IsActive() {
				t.Error("transient numerical fault aborted the goal")
			}
			if len(feedbacks) != 1 {
				t.Errorf("feedback published %d times, want 1", len(feedbacks))
			}

			// recovery: a finite output on the next cycle passes through
			policy.output = twoJointState(0.7, 0.8, 0.1, 0.2)
			got = ct.UpdateControl(twoJointState(5, 6, 0, 0), 10*time.Millisecond)
			assertStatesEqual(t, got, policy.output)
		})
	}
}

func TestPreemption(t *testing.T) {
	ct, server, policy := newTestController(t)

	server.SendGoal(testGoal{Target: 1})
	if !ct.IsActive() {
		t.Fatal("goal not active after submission")
	}

	server.CancelGoal()

	if got := server.Status(); got != GoalStatusPreempted {
		t.Errorf("goal status = %v, want preempted", got)
	}
	if ct.IsActive() {
		t.Error("controller active after preemption")
	}
	if policy.resets == 0 {
		t.Error("preemption did not reset the algorithm")
	}

	// a new goal reactivates the controller
	server.SendGoal(testGoal{Target: 2})
	if !ct.IsActive() {
		t.Fatal("controller not reactivated by new goal")
	}
	ct.UpdateControl(twoJointState(1, 2, 0, 0), 10*time.Millisecond)
	if policy.calls != 1 {
		t.Errorf("algorithm invoked %d times after reactivation, want 1", policy.calls)
	}
}

func TestGoalCompletionResetsState(t *testing.T) {
	ct, server, policy := newTestController(t)

	ct.UpdateControl(twoJointState(1, 2, 3, 4), 10*time.Millisecond)

	server.SendGoal(testGoal{Target: 1})
	policy.onControl = func() { server.SetSucceeded(testResult{Reached: true}) }

	ct.UpdateControl(twoJointState(1, 2, 0, 0), 10*time.Millisecond)

	if got := server.Status(); got != GoalStatusSucceeded {
		t.Errorf("goal status = %v, want succeeded", got)
	}
	if policy.resets != 1 {
		t.Errorf("resets = %d, want 1", policy.resets)
	}

	// the held state was cleared; the next idle update re-seeds it
	got := ct.UpdateControl(twoJointState(7, 8, 1, 1), 10*time.Millisecond)
	assertStatesEqual(t, got, twoJointState(7, 8, 0, 0))
}

func TestConcurrentGoalTraffic(t *testing.T) {
	ct, server, policy := newTestController(t)
	state := twoJointState(1, 2, 0, 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			server.SendGoal(testGoal{Target: float64(i)})
			server.CancelGoal()
		}
	}()
	for i := 0; i < 200; i++ {
		ct.UpdateControl(state, 10*time.Millisecond)
	}
	<-done

	// the controller still serves goals after the churn
	server.SendGoal(testGoal{Target: 1})
	if !ct.IsActive() {
		t.Fatal("goal not active after concurrent goal traffic")
	}
	before := policy.calls
	ct.UpdateControl(state, 10*time.Millisecond)
	if policy.calls != before+1 {
		t.Errorf("algorithm calls went from %d to %d, want one more", before, policy.calls)
	}
}

func TestResetInternalStateWhenIdle(t *testing.T) {
	ct, _, policy := newTestController(t)

	ct.ResetInternalState()
	if policy.resets != 1 {
		t.Errorf("resets = %d, want 1", policy.resets)
	}
}
