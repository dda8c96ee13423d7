// Package compiler is the public entry point: it assembles the compilation
// pipeline and turns an experiment plus a device setup into a deterministic
// compiled artifact, optionally consulting a local artifact cache.
package compiler

import (
	"context"
	"fmt"

	"github.com/quantumctl/pulsec/internal/artifact"
	"github.com/quantumctl/pulsec/internal/ctxlog"
	"github.com/quantumctl/pulsec/internal/device"
	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/pipeline"
)

// Options tunes a compilation.
type Options struct {
	// StrictFeedback turns the feedback-delay clamp into a hard error
	// instead of a warning.
	StrictFeedback bool

	// CachePath points to the artifact cache database. Empty disables
	// caching.
	CachePath string
}

// Request bundles the compilation inputs.
type Request struct {
	Experiment  *exp.Experiment
	Setup       *device.Setup
	SignalMap   map[string]string
	Calibration device.CalibrationTable
}

// Result is the outcome of a compilation. Diags carries warnings even on
// success; Compiled is nil when Diags contains errors.
type Result struct {
	Compiled *artifact.CompiledExperiment
	Diags    diagnostics.List

	// CacheHit is true when the artifact was served from the cache.
	CacheHit bool
}

// Compile runs the full pipeline over a request. The context carries
// cancellation and the logger.
func Compile(ctx context.Context, req Request, opts Options) (*Result, error) {
	if req.Experiment == nil {
		return nil, fmt.Errorf("compile: no experiment")
	}
	if req.Setup == nil {
		return nil, fmt.Errorf("compile: no setup")
	}
	if err := req.Setup.Validate(); err != nil {
		return nil, fmt.Errorf("compile: invalid setup: %w", err)
	}
	logger := ctxlog.FromContext(ctx)

	var cache *artifact.Cache
	var inputHash string
	if opts.CachePath != "" {
		var err error
		cache, err = artifact.OpenCache(opts.CachePath)
		if err != nil {
			logger.Warn("artifact cache unavailable", "path", opts.CachePath, "error", err)
		} else {
			defer cache.Close()
			inputHash = requestHash(req, opts)
			if cached, err := cache.Get(inputHash); err == nil && cached != nil {
				logger.Debug("artifact cache hit", "experiment", req.Experiment.UID, "hash", inputHash)
				return &Result{Compiled: cached, CacheHit: true}, nil
			}
		}
	}

	pctx := pipeline.NewContext(ctx, req.Experiment, req.Setup, req.SignalMap, req.Calibration)
	pctx.StrictFeedback = opts.StrictFeedback

	p := pipeline.New(
		resolveStage{},
		scheduleStage{},
		feedbackStage{},
		codegenStage{},
	)
	pctx = p.Run(pctx)

	out := &Result{Diags: pctx.Diags}
	if pctx.Diags.HasErrors() {
		return out, nil
	}
	out.Compiled = pctx.Compiled.(*artifact.CompiledExperiment)

	if cache != nil && inputHash != "" {
		if err := cache.Put(inputHash, out.Compiled); err != nil {
			logger.Warn("artifact cache write failed", "error", err)
		}
	}
	return out, nil
}
