package generic_control_toolbox

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"
)

// FrameResolver resolves the rigid transform of sourceFrame expressed in
// targetFrame. Lookups may fail transiently, e.g. while an upstream
// transform tree is still being published.
type FrameResolver interface {
	Transform(ctx context.Context, sourceFrame, targetFrame string) (spatialmath.Pose, error)
}

// resolveTransform retries a frame lookup up to params.MaxTransformAttempts
// times, waiting params.TransformRetryDelay between attempts. It blocks the
// caller and so belongs in registration paths, never in a control loop.
func resolveTransform(
	ctx context.Context,
	resolver FrameResolver,
	sourceFrame, targetFrame string,
	params Parameters,
	logger logging.Logger,
) (spatialmath.Pose, error) {
	var lastErr error
	for attempt := 1; attempt <= params.MaxTransformAttempts; attempt++ {
		pose, err := resolver.Transform(ctx, sourceFrame, targetFrame)
		if err == nil {
			return pose, nil
		}
		lastErr = err
		logger.Warnf("transform %s -> %s failed (attempt %d/%d): %v",
			sourceFrame, targetFrame, attempt, params.MaxTransformAttempts, err)
		if !goutils.SelectContextOrWait(ctx, params.TransformRetryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, errors.Wrapf(ErrTransformUnavailable, "%s -> %s after %d attempts (last error: %v)",
		sourceFrame, targetFrame, params.MaxTransformAttempts, lastErr)
}

// StaticFrameResolver serves transforms from a fixed in-memory table. It
// suits rigs whose sensor mounting is known ahead of time, and tests.
type StaticFrameResolver struct {
	mu    sync.RWMutex
	poses map[[2]string]spatialmath.Pose
}

func NewStaticFrameResolver() *StaticFrameResolver {
	return &StaticFrameResolver{poses: make(map[[2]string]spatialmath.Pose)}
}

// SetTransform records the pose of sourceFrame expressed in targetFrame.
func (r *StaticFrameResolver) SetTransform(sourceFrame, targetFrame string, pose spatialmath.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poses[[2]string{sourceFrame, targetFrame}] = pose
}

func (r *StaticFrameResolver) Transform(ctx context.Context, sourceFrame, targetFrame string) (spatialmath.Pose, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pose, ok := r.poses[[2]string{sourceFrame, targetFrame}]
	if !ok {
		return nil, errors.Errorf("no transform from %q to %q", sourceFrame, targetFrame)
	}
	return pose, nil
}
