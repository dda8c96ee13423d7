package compiler

import (
	"github.com/quantumctl/pulsec/internal/artifact"
	"github.com/quantumctl/pulsec/internal/codegen"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/feedback"
	"github.com/quantumctl/pulsec/internal/pipeline"
	"github.com/quantumctl/pulsec/internal/resolver"
	"github.com/quantumctl/pulsec/internal/scheduler"
)

// resolveStage binds experiment signals to lines and calibration.
type resolveStage struct{}

func (resolveStage) Name() string { return "resolve" }

func (resolveStage) Process(ctx *pipeline.Context) *pipeline.Context {
	e := ctx.Experiment.(*exp.Experiment)
	setup := ctx.Setup.(*device.Setup)
	cal, _ := ctx.Calibration.(device.CalibrationTable)

	res, diags := resolver.Resolve(e, setup, ctx.SignalMap, cal)
	ctx.Diags = append(ctx.Diags, diags...)
	ctx.Resolved = res
	return ctx
}

// scheduleStage assigns every operation its absolute time window.
type scheduleStage struct{}

func (scheduleStage) Name() string { return "schedule" }

func (scheduleStage) Process(ctx *pipeline.Context) *pipeline.Context {
	res := ctx.Resolved.(*resolver.Resolved)

	sched, diags := scheduler.Build(res, scheduler.Options{StrictFeedback: ctx.StrictFeedback})
	ctx.Diags = append(ctx.Diags, diags...)
	ctx.Schedule = sched
	return ctx
}

// feedbackStage certifies the acquire-to-match bindings and latencies.
type feedbackStage struct{}

func (feedbackStage) Name() string { return "feedback" }

func (feedbackStage) Process(ctx *pipeline.Context) *pipeline.Context {
	sched := ctx.Schedule.(*scheduler.Schedule)

	resolutions, diags := feedback.Resolve(sched)
	ctx.Diags = append(ctx.Diags, diags...)
	ctx.Feedback = resolutions
	return ctx
}

// codegenStage lowers the schedule into device programs and packages the
// final artifact.
type codegenStage struct{}

func (codegenStage) Name() string { return "codegen" }

func (codegenStage) Process(ctx *pipeline.Context) *pipeline.Context {
	e := ctx.Experiment.(*exp.Experiment)
	sched := ctx.Schedule.(*scheduler.Schedule)
	resolutions, _ := ctx.Feedback.([]feedback.Resolution)

	programs, diags := codegen.Generate(sched)
	ctx.Diags = append(ctx.Diags, diags...)
	if ctx.Diags.HasErrors() {
		return ctx
	}

	ctx.Compiled = &artifact.CompiledExperiment{
		ExperimentUID: e.UID,
		Programs:      programs,
		Manifest:      sched.Events(false),
		Feedback:      resolutions,
		Shape:         resultShape(sched),
		SystemGrid:    sched.SystemGrid,
		NTSteps:       sched.NTSteps,
		TotalTicks:    sched.Root.End,
	}
	return ctx
}

// resultShape derives the result assembler's folding descriptor from the
// schedule.
func resultShape(sched *scheduler.Schedule) artifact.ResultShape {
	shape := artifact.ResultShape{
		NTDims:       sched.NTDims,
		AverageCount: 1,
	}
	if rt := sched.RT; rt != nil {
		shape.SweepDims = rt.SweepDims
		shape.AverageCount = rt.Count
		shape.Averaging = rt.Averaging
		shape.Acquisition = rt.Acquisition
		shape.Handles = sched.SortedHandles()
		for _, h := range shape.Handles {
			shape.HandleSignals = append(shape.HandleSignals, artifact.HandleSignal{
				Handle: h,
				Signal: rt.HandleSignal[h],
			})
		}
	}
	return shape
}
