package pipeline

import (
	"context"

	"github.com/quantumctl/pulsec/internal/diagnostics"
)

// Context is the shared state threaded through the compilation stages.
//
// The input slots (Experiment, Setup, SignalMap, Calibration) are filled by
// the caller before Run; each stage fills exactly one of the later slots and
// never mutates what an earlier stage produced. Stage-specific types are held
// as opaque values so that the stage packages stay free of a dependency on
// this package; the owning stage performs the type assertion.
type Context struct {
	// Context carries cancellation and the logger.
	Context context.Context

	// Inputs.
	Experiment  any // *exp.Experiment
	Setup       any // *device.Setup
	SignalMap   map[string]string
	Calibration any // device.CalibrationTable

	// StrictFeedback turns the feedback-delay clamp into an error.
	StrictFeedback bool

	// Stage outputs.
	Resolved any // *resolver.Resolved
	Schedule any // *scheduler.Schedule
	Feedback any // []feedback.Resolution
	Compiled any // *artifact.CompiledExperiment

	// Diags accumulates errors and warnings from all stages.
	Diags diagnostics.List
}

// NewContext creates a pipeline context over the given compilation inputs.
func NewContext(ctx context.Context, experiment, setup any, signalMap map[string]string, calibration any) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Context:     ctx,
		Experiment:  experiment,
		Setup:       setup,
		SignalMap:   signalMap,
		Calibration: calibration,
	}
}
