package usecase

import (
	"context"
	"fmt"

	"github.com/nguyentranbao-ct/consult-live/pkg/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TeardownStep is one independent cleanup action.
type TeardownStep struct {
	Name string
	Run  func(ctx context.Context) error
}

var teardownFailures = util.MustCounterVec(
	"live_session_teardown_failures_total",
	"Failed live session cleanup steps",
	"step",
)

// RunTeardown runs every step in order. A failing or panicking step is
// logged and does not stop the ones after it. The combined failures are
// returned for the caller to log.
func RunTeardown(ctx context.Context, log *zap.SugaredLogger, steps ...TeardownStep) error {
	var errs error
	for _, step := range steps {
		if err := runStep(ctx, step); err != nil {
			log.Warnw("teardown step failed", "step", step.Name, "error", err)
			teardownFailures.WithLabelValues(step.Name).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errs
}

func runStep(ctx context.Context, step TeardownStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return step.Run(ctx)
}
