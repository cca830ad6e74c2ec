package pipeline

import (
	"go.uber.org/zap"

	"github.com/andresmejia3/attendo/internal/outcome"
)

type State string

const (
	Idle           State = "idle"
	ValidatingName State = "validating_name"
	Normalizing    State = "normalizing"
	SavingProfile  State = "saving_profile"
	GalleryReady   State = "gallery_ready"
	Dispatching    State = "dispatching"
	Enrolling      State = "enrolling"
	Interpreting   State = "interpreting"
	Done           State = "done"
	Failed         State = "failed"
)

// run tracks the state of a single pipeline execution.
type run struct {
	id    string
	state State
	log   *zap.Logger
}

func (r *run) enter(s State) {
	r.log.Debug("state transition", zap.String("from", string(r.state)), zap.String("to", string(s)))
	r.state = s
}

func (r *run) fail(err error) outcome.Outcome {
	r.log.Warn("pipeline failed", zap.String("state", string(r.state)), zap.Error(err))
	r.enter(Failed)
	return outcome.Fail(err)
}

func (r *run) done(o outcome.Outcome) {
	r.enter(Done)
	r.log.Info("pipeline finished", zap.String("outcome", string(o.Kind)), zap.String("message", o.Message))
}
