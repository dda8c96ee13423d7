package exp

import (
	"fmt"

	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/pulse"
)

// Builder accumulates an experiment declaration into a single-rooted tree.
// Each builder owns its own accumulation stack, so independent experiments
// can be constructed concurrently; there is no ambient build state.
//
// Structural violations are collected as diagnostics and surfaced by
// Finalize; the builder keeps accepting declarations after an error so that
// one pass reports everything.
type Builder struct {
	uid       string
	signals   map[string]bool
	sigOrder  []string
	root      *Section
	stack     []SectionNode
	diags     diagnostics.List
	seq       int
	finalized bool
}

// NewBuilder starts an experiment declaration over the given signals.
func NewBuilder(uid string, signals ...string) *Builder {
	b := &Builder{
		uid:     uid,
		signals: make(map[string]bool, len(signals)),
		root:    &Section{UID: uid + "_root"},
	}
	for _, s := range signals {
		if !b.signals[s] {
			b.signals[s] = true
			b.sigOrder = append(b.sigOrder, s)
		}
	}
	b.stack = []SectionNode{b.root}
	return b
}

func (b *Builder) nextUID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_%d", prefix, b.seq)
}

func (b *Builder) top() SectionNode {
	return b.stack[len(b.stack)-1]
}

func (b *Builder) errf(code diagnostics.Code, node, format string, args ...any) {
	b.diags = append(b.diags, diagnostics.NewError(code, node, format, args...))
}

func (b *Builder) checkSignal(node, signal string) {
	if !b.signals[signal] {
		b.errf(diagnostics.ErrS002, node, "signal %q is not declared for experiment %q", signal, b.uid)
	}
}

// addChild appends to the open section, enforcing per-variant child rules.
func (b *Builder) addChild(n Node) {
	parent := b.top()
	switch p := parent.(type) {
	case *Match:
		if _, ok := n.(*Case); !ok {
			b.errf(diagnostics.ErrS004, p.UID, "a match may only contain case branches, got %q", n.NodeUID())
			return
		}
	case *Case:
		switch n.(type) {
		case *Play, *Delay:
		default:
			b.errf(diagnostics.ErrS004, p.UID, "a case may only contain play and delay operations, got %q", n.NodeUID())
			return
		}
	}
	if _, ok := n.(*Case); ok {
		if _, inMatch := parent.(*Match); !inMatch {
			b.errf(diagnostics.ErrS004, n.NodeUID(), "case branch outside of a match")
			return
		}
	}
	parent.Base().Children = append(parent.Base().Children, n)
}

// SectionOptions configures a plain section.
type SectionOptions struct {
	UID          string
	Alignment    Alignment
	Length       *float64
	PlayAfter    []string
	OnSystemGrid bool
	Triggers     []TriggerOut
}

// Section opens a plain section scope.
func (b *Builder) Section(opts SectionOptions) *Builder {
	uid := opts.UID
	if uid == "" {
		uid = b.nextUID("s")
	}
	sec := &Section{
		UID:          uid,
		Alignment:    opts.Alignment,
		Length:       opts.Length,
		PlayAfter:    opts.PlayAfter,
		OnSystemGrid: opts.OnSystemGrid,
		Triggers:     opts.Triggers,
	}
	for _, t := range opts.Triggers {
		b.checkSignal(uid, t.Signal)
	}
	b.addChild(sec)
	b.stack = append(b.stack, sec)
	return b
}

// Sweep opens a sweep scope over the given parameters.
func (b *Builder) Sweep(uid string, params ...*Parameter) *Builder {
	if uid == "" {
		uid = b.nextUID("sweep")
	}
	if len(params) == 0 {
		b.errf(diagnostics.ErrS006, uid, "sweep declares no parameters")
	}
	length := -1
	for _, p := range params {
		if length == -1 {
			length = len(p.Values)
		} else if len(p.Values) != length {
			b.errf(diagnostics.ErrS006, uid, "swept parameters disagree on value count: %s has %d, expected %d",
				p.UID, len(p.Values), length)
		}
	}
	sw := &Sweep{Section: Section{UID: uid}, Parameters: params, Chunks: 1}
	b.addChild(sw)
	b.stack = append(b.stack, sw)
	return b
}

// AcquireLoopRt opens the real-time acquisition loop scope.
func (b *Builder) AcquireLoopRt(uid string, count int, averaging AveragingMode, acquisition AcquisitionType) *Builder {
	if uid == "" {
		uid = b.nextUID("rt")
	}
	if count < 1 {
		b.errf(diagnostics.ErrS006, uid, "real-time loop count must be positive, got %d", count)
	}
	loop := &AcquireLoopRt{
		Section:     Section{UID: uid},
		Count:       count,
		Averaging:   averaging,
		Acquisition: acquisition,
	}
	b.addChild(loop)
	b.stack = append(b.stack, loop)
	return b
}

// Match opens a feedback branch scope keyed by handle. delay is the declared
// acquire-to-match latency in seconds.
func (b *Builder) Match(uid, handle string, delay float64) *Builder {
	if uid == "" {
		uid = b.nextUID("match")
	}
	m := &Match{Section: Section{UID: uid}, Handle: handle, Delay: delay}
	b.addChild(m)
	b.stack = append(b.stack, m)
	return b
}

// Case opens a branch scope for the given state label.
func (b *Builder) Case(state int) *Builder {
	parent := b.top()
	uid := b.nextUID("case")
	if m, ok := parent.(*Match); ok {
		for _, c := range m.Children {
			if existing, ok := c.(*Case); ok && existing.State == state {
				b.errf(diagnostics.ErrF401, m.UID, "a branch for state %d already exists", state)
			}
		}
	}
	c := &Case{Section: Section{UID: uid}, State: state}
	b.addChild(c)
	b.stack = append(b.stack, c)
	return b
}

// End closes the innermost open scope.
func (b *Builder) End() *Builder {
	if len(b.stack) <= 1 {
		b.errf(diagnostics.ErrS001, b.uid, "unbalanced declaration: end without matching open scope")
		return b
	}
	b.stack = b.stack[:len(b.stack)-1]
	return b
}

// PlayOptions overrides descriptor defaults for a single play operation.
type PlayOptions struct {
	Amplitude                *Value
	Phase                    *float64
	Length                   *Value
	SetOscillatorPhase       *float64
	IncrementOscillatorPhase *float64
}

// Play declares pulse playback on a signal.
func (b *Builder) Play(signal string, p *pulse.Pulse, opts *PlayOptions) *Builder {
	uid := b.nextUID("play")
	b.checkSignal(uid, signal)
	if p == nil {
		b.errf(diagnostics.ErrS006, uid, "play on signal %q without a pulse", signal)
		return b
	}
	op := &Play{UID: uid, Sig: signal, Pulse: p}
	if opts != nil {
		op.Amplitude = opts.Amplitude
		op.Phase = opts.Phase
		op.Length = opts.Length
		op.SetOscillatorPhase = opts.SetOscillatorPhase
		op.IncrementOscillatorPhase = opts.IncrementOscillatorPhase
	}
	b.addChild(op)
	return b
}

// Delay declares a fixed or swept idle time on a signal.
func (b *Builder) Delay(signal string, time Value) *Builder {
	uid := b.nextUID("delay")
	b.checkSignal(uid, signal)
	b.addChild(&Delay{UID: uid, Sig: signal, Time: time})
	return b
}

// Acquire declares data acquisition under a handle. Pass a kernel pulse for
// weighted integration or a positive rawLength for a raw window.
func (b *Builder) Acquire(signal, handle string, kernel *pulse.Pulse, rawLength float64) *Builder {
	uid := b.nextUID("acq")
	b.checkSignal(uid, signal)
	if kernel == nil && rawLength <= 0 {
		b.errf(diagnostics.ErrS006, uid, "acquire %q needs a kernel or a raw window length", handle)
	}
	b.addChild(&Acquire{UID: uid, Sig: signal, Handle: handle, Kernel: kernel, Length: rawLength})
	return b
}

// Reserve blocks a signal for the enclosing section.
func (b *Builder) Reserve(signal string) *Builder {
	uid := b.nextUID("rsv")
	b.checkSignal(uid, signal)
	b.addChild(&Reserve{UID: uid, Sig: signal})
	return b
}

// Measure is the playback-then-acquire convenience: an optional measure
// pulse, an optional settle delay, and the acquisition itself.
func (b *Builder) Measure(measureSignal string, measurePulse *pulse.Pulse, acquireSignal, handle string, kernel *pulse.Pulse, acquireDelay float64) *Builder {
	if measureSignal != "" && measurePulse != nil {
		b.Play(measureSignal, measurePulse, nil)
	}
	if acquireDelay > 0 {
		b.Delay(acquireSignal, Fixed(acquireDelay))
	}
	length := 0.0
	if kernel == nil && measurePulse != nil {
		length = measurePulse.Length
	}
	return b.Acquire(acquireSignal, handle, kernel, length)
}

// validateLengths flags sibling sections whose explicit lengths cannot be
// honored under their parent's explicit length.
func (b *Builder) validateLengths(sec *Section) {
	for _, c := range sec.Children {
		child, ok := c.(SectionNode)
		if !ok {
			continue
		}
		cs := child.Base()
		if sec.Length != nil && cs.Length != nil && *cs.Length > *sec.Length {
			b.errf(diagnostics.ErrS003, cs.UID,
				"explicit length %.3g s exceeds the enclosing section's explicit length %.3g s (%s)",
				*cs.Length, *sec.Length, sec.UID)
		}
		b.validateLengths(cs)
	}
}

// validateUIDs flags duplicate section identifiers anywhere in the tree.
func (b *Builder) validateUIDs() {
	seen := make(map[string]bool)
	Walk(b.root, func(n Node) bool {
		if sn, ok := n.(SectionNode); ok {
			uid := sn.Base().UID
			if seen[uid] {
				b.errf(diagnostics.ErrS005, uid, "duplicate section identifier")
			}
			seen[uid] = true
		}
		return true
	})
}

// Finalize closes the declaration and returns the immutable experiment tree.
// It fails when scopes are unbalanced or any structural rule was violated.
func (b *Builder) Finalize() (*Experiment, diagnostics.List) {
	if b.finalized {
		b.errf(diagnostics.ErrS001, b.uid, "experiment already finalized")
		return nil, b.diags
	}
	if len(b.stack) != 1 {
		b.errf(diagnostics.ErrS001, b.uid, "unbalanced declaration: %d scopes still open", len(b.stack)-1)
	}
	b.validateLengths(b.root)
	b.validateUIDs()

	if b.diags.HasErrors() {
		return nil, b.diags
	}
	b.finalized = true
	return &Experiment{UID: b.uid, Signals: b.sigOrder, Root: b.root}, b.diags
}
