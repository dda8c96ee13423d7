// Package pipeline wires the compilation stages together. Each stage is a
// Processor that transforms a shared Context; diagnostics accumulate on the
// context and a stage that finds errors aborts the rest of the run, so a
// failing compilation never yields partial device programs.
package pipeline

import (
	"github.com/quantumctl/pulsec/internal/ctxlog"
)

// Pipeline represents a sequence of processing stages.
type Pipeline struct {
	processors []Processor
}

// Processor is a single compilation stage.
type Processor interface {
	// Name identifies the stage in logs.
	Name() string

	// Process transforms the context. Stages report problems by appending
	// to ctx.Diags rather than returning an error.
	Process(ctx *Context) *Context
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the pipeline. Unlike a diagnostics-collecting frontend, the
// compiler stops at the first stage that produced errors: later stages would
// only operate on incomplete structures.
func (p *Pipeline) Run(initialCtx *Context) *Context {
	ctx := initialCtx
	logger := ctxlog.FromContext(ctx.Context)
	for _, processor := range p.processors {
		if ctx.Diags.HasErrors() {
			logger.Debug("skipping stage after earlier errors", "stage", processor.Name())
			continue
		}
		logger.Debug("running stage", "stage", processor.Name())
		ctx = processor.Process(ctx)
	}
	return ctx
}
