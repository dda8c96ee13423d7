package exp

import "github.com/quantumctl/pulsec/internal/pulse"

// Node is any member of the experiment tree: a section variant or a leaf
// operation.
type Node interface {
	NodeUID() string
}

// Operation is a leaf action on a single experiment signal.
type Operation interface {
	Node
	Signal() string
}

// Play plays a pulse on a signal, optionally overriding the descriptor's
// amplitude, phase and length, and optionally manipulating the oscillator
// phase before playback.
type Play struct {
	UID       string
	Sig       string
	Pulse     *pulse.Pulse
	Amplitude *Value
	Phase     *float64
	Length    *Value

	// SetOscillatorPhase, when non-nil, resets the software/hardware
	// oscillator phase to the given value before the pulse.
	SetOscillatorPhase *float64

	// IncrementOscillatorPhase advances the oscillator phase before the
	// pulse.
	IncrementOscillatorPhase *float64
}

func (p *Play) NodeUID() string { return p.UID }
func (p *Play) Signal() string  { return p.Sig }

// Delay holds a signal idle for a fixed or swept duration.
type Delay struct {
	UID  string
	Sig  string
	Time Value
}

func (d *Delay) NodeUID() string { return d.UID }
func (d *Delay) Signal() string  { return d.Sig }

// Acquire records data on a signal under a named handle. Either a kernel
// pulse or a raw window length must be given.
type Acquire struct {
	UID    string
	Sig    string
	Handle string
	Kernel *pulse.Pulse
	Length float64 // seconds, raw window when no kernel
}

func (a *Acquire) NodeUID() string { return a.UID }
func (a *Acquire) Signal() string  { return a.Sig }

// Reserve blocks a signal for the duration of the enclosing section without
// producing output, so no sibling section can schedule onto it meanwhile.
type Reserve struct {
	UID string
	Sig string
}

func (r *Reserve) NodeUID() string { return r.UID }
func (r *Reserve) Signal() string  { return r.Sig }

// TriggerOut requests a digital trigger level on a signal's port for the
// duration of the owning section.
type TriggerOut struct {
	Signal string
	Bit    int
}

// Section is an ordered or alignment-governed grouping of operations and
// nested sections.
type Section struct {
	UID          string
	Alignment    Alignment
	Length       *float64 // minimal length in seconds
	PlayAfter    []string // sibling uids that must end first
	OnSystemGrid bool
	Triggers     []TriggerOut
	Children     []Node
}

func (s *Section) NodeUID() string { return s.UID }

// SectionNode is implemented by every section variant and exposes the shared
// Section payload.
type SectionNode interface {
	Node
	Base() *Section
}

func (s *Section) Base() *Section { return s }

// Sweep iterates one or more parameters. Whether it compiles to a host-driven
// near-time unroll or a hardware parameter loop is the scheduler's decision,
// gated on device capability.
type Sweep struct {
	Section
	Parameters []*Parameter

	// Chunks splits the sweep into near-time chunks when > 1.
	Chunks int
}

// AcquireLoopRt is the outermost real-time repetition construct.
type AcquireLoopRt struct {
	Section
	Count       int
	Averaging   AveragingMode
	Acquisition AcquisitionType
}

// Match executes exactly one Case child per real-time pass, keyed by the
// discriminated state previously acquired under Handle.
type Match struct {
	Section
	Handle string

	// Delay is the user-declared acquire-to-match latency in seconds. The
	// feedback resolver clamps it up to the path-dependent floor.
	Delay float64
}

// Case is one branch of a Match.
type Case struct {
	Section
	State int
}

// Experiment is the finished, immutable IR.
type Experiment struct {
	UID     string
	Signals []string
	Root    *Section
}

// SignalDeclared reports whether the experiment declared the given signal.
func (e *Experiment) SignalDeclared(name string) bool {
	for _, s := range e.Signals {
		if s == name {
			return true
		}
	}
	return false
}

// Walk visits every node of the tree depth-first, parents before children.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	if sec, ok := n.(SectionNode); ok {
		for _, c := range sec.Base().Children {
			Walk(c, visit)
		}
	}
}
