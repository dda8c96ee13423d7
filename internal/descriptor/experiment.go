package descriptor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantumctl/pulsec/internal/diagnostics"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/pulse"
)

// ExperimentConfig is a declarative experiment definition. It drives the
// experiment builder, so everything expressible through the builder API is
// expressible here.
type ExperimentConfig struct {
	UID        string          `yaml:"uid"`
	Signals    []string        `yaml:"signals"`
	Pulses     []PulseSpec     `yaml:"pulses,omitempty"`
	Parameters []ParameterSpec `yaml:"parameters,omitempty"`
	Sections   []NodeSpec      `yaml:"sections"`
}

// PulseSpec declares one reusable pulse descriptor.
type PulseSpec struct {
	UID        string    `yaml:"uid"`
	Function   string    `yaml:"function"`
	Length     float64   `yaml:"length"`
	Amplitude  float64   `yaml:"amplitude"`
	Phase      float64   `yaml:"phase,omitempty"`
	Sigma      float64   `yaml:"sigma,omitempty"`
	Beta       float64   `yaml:"beta,omitempty"`
	Width      float64   `yaml:"width,omitempty"`
	Samples    []float64 `yaml:"samples,omitempty"`     // real envelope of a sampled pulse
	SampleRate float64   `yaml:"sample_rate,omitempty"` // source rate of the samples
}

// ParameterSpec declares a sweep parameter, either as an explicit value list
// or a linear range.
type ParameterSpec struct {
	UID    string      `yaml:"uid"`
	Values []float64   `yaml:"values,omitempty"`
	Linear *LinearSpec `yaml:"linear,omitempty"`
}

type LinearSpec struct {
	Start float64 `yaml:"start"`
	Stop  float64 `yaml:"stop"`
	Count int     `yaml:"count"`
}

// NodeSpec is one tree node: a section variant selected by Type, or a leaf
// operation selected by which operation key is present.
type NodeSpec struct {
	Type string `yaml:"type,omitempty"` // section, sweep, acquire-loop-rt, match, case

	UID          string      `yaml:"uid,omitempty"`
	Alignment    string      `yaml:"alignment,omitempty"` // left (default) or right
	Length       *float64    `yaml:"length,omitempty"`
	PlayAfter    []string    `yaml:"play_after,omitempty"`
	OnSystemGrid bool        `yaml:"on_system_grid,omitempty"`
	Triggers     []TrigSpec  `yaml:"triggers,omitempty"`
	Children     []NodeSpec  `yaml:"children,omitempty"`
	Parameters   []string    `yaml:"parameters,omitempty"` // sweep
	Chunks       int         `yaml:"chunks,omitempty"`     // sweep
	Count        int         `yaml:"count,omitempty"`      // acquire-loop-rt
	Averaging    string      `yaml:"averaging,omitempty"`
	Acquisition  string      `yaml:"acquisition,omitempty"`
	Handle       string      `yaml:"handle,omitempty"` // match
	Delay        float64     `yaml:"delay,omitempty"`  // match
	State        *int        `yaml:"state,omitempty"`  // case
	Play         *PlaySpec   `yaml:"play,omitempty"`
	DelayOp      *DelaySpec  `yaml:"delay_op,omitempty"`
	Acquire      *AcqSpec    `yaml:"acquire,omitempty"`
	Reserve      string      `yaml:"reserve,omitempty"`
	Measure      *MeasSpec   `yaml:"measure,omitempty"`
}

type TrigSpec struct {
	Signal string `yaml:"signal"`
	Bit    int    `yaml:"bit"`
}

// ValueSpec is a scalar that may be fixed or bound to a sweep parameter.
type ValueSpec struct {
	Fixed float64
	Param string
}

// UnmarshalYAML accepts either a bare number or a {param: uid} mapping.
func (v *ValueSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&v.Fixed)
	}
	var aux struct {
		Param string `yaml:"param"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.Param == "" {
		return fmt.Errorf("value must be a number or {param: <uid>}")
	}
	v.Param = aux.Param
	return nil
}

type PlaySpec struct {
	Signal         string     `yaml:"signal"`
	Pulse          string     `yaml:"pulse"`
	Amplitude      *ValueSpec `yaml:"amplitude,omitempty"`
	Phase          *float64   `yaml:"phase,omitempty"`
	Length         *ValueSpec `yaml:"length,omitempty"`
	SetPhase       *float64   `yaml:"set_oscillator_phase,omitempty"`
	IncrementPhase *float64   `yaml:"increment_oscillator_phase,omitempty"`
}

type DelaySpec struct {
	Signal string    `yaml:"signal"`
	Time   ValueSpec `yaml:"time"`
}

type AcqSpec struct {
	Signal string  `yaml:"signal"`
	Handle string  `yaml:"handle"`
	Kernel string  `yaml:"kernel,omitempty"`
	Length float64 `yaml:"length,omitempty"` // raw window, seconds
}

type MeasSpec struct {
	Signal        string  `yaml:"signal"`
	Pulse         string  `yaml:"pulse"`
	AcquireSignal string  `yaml:"acquire_signal"`
	Handle        string  `yaml:"handle"`
	Kernel        string  `yaml:"kernel,omitempty"`
	AcquireDelay  float64 `yaml:"acquire_delay,omitempty"`
}

// LoadExperiment reads and parses an experiment descriptor file.
func LoadExperiment(path string) (*ExperimentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading experiment %s: %w", path, err)
	}
	return ParseExperiment(data, path)
}

// ParseExperiment parses experiment descriptor content from bytes.
func ParseExperiment(data []byte, path string) (*ExperimentConfig, error) {
	var cfg ExperimentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.UID == "" {
		return nil, fmt.Errorf("%s: experiment has no uid", path)
	}
	if len(cfg.Signals) == 0 {
		return nil, fmt.Errorf("%s: experiment declares no signals", path)
	}
	if len(cfg.Sections) == 0 {
		return nil, fmt.Errorf("%s: experiment has no sections", path)
	}
	return &cfg, nil
}

// ParameterSet expands the declared parameters.
func (c *ExperimentConfig) ParameterSet() (map[string]*exp.Parameter, error) {
	out := make(map[string]*exp.Parameter, len(c.Parameters))
	for _, spec := range c.Parameters {
		if _, dup := out[spec.UID]; dup {
			return nil, fmt.Errorf("duplicate parameter %q", spec.UID)
		}
		switch {
		case spec.Linear != nil:
			if spec.Linear.Count < 1 {
				return nil, fmt.Errorf("parameter %q: linear range needs a positive count", spec.UID)
			}
			out[spec.UID] = exp.LinearParameter(spec.UID, spec.Linear.Start, spec.Linear.Stop, spec.Linear.Count)
		case len(spec.Values) > 0:
			out[spec.UID] = exp.ListParameter(spec.UID, spec.Values)
		default:
			return nil, fmt.Errorf("parameter %q: needs values or a linear range", spec.UID)
		}
	}
	return out, nil
}

// PulseSet materializes the declared pulse descriptors.
func (c *ExperimentConfig) PulseSet() (map[string]*pulse.Pulse, error) {
	out := make(map[string]*pulse.Pulse, len(c.Pulses))
	for _, spec := range c.Pulses {
		if _, dup := out[spec.UID]; dup {
			return nil, fmt.Errorf("duplicate pulse %q", spec.UID)
		}
		p, err := spec.pulse()
		if err != nil {
			return nil, err
		}
		out[spec.UID] = p
	}
	return out, nil
}

func (s PulseSpec) pulse() (*pulse.Pulse, error) {
	switch pulse.Functional(s.Function) {
	case pulse.FuncConst:
		return pulse.Const(s.UID, s.Length, s.Amplitude), nil
	case pulse.FuncGaussian:
		return pulse.Gaussian(s.UID, s.Length, s.Amplitude, s.Sigma), nil
	case pulse.FuncDrag:
		return pulse.Drag(s.UID, s.Length, s.Amplitude, s.Sigma, s.Beta), nil
	case pulse.FuncGaussianSquare:
		return pulse.GaussianSquare(s.UID, s.Length, s.Width, s.Amplitude, s.Sigma), nil
	case pulse.FuncSawtooth:
		return pulse.Sawtooth(s.UID, s.Length, s.Amplitude), nil
	case pulse.FuncTriangle:
		return pulse.Triangle(s.UID, s.Length, s.Amplitude), nil
	case pulse.FuncSampled:
		if len(s.Samples) == 0 {
			return nil, fmt.Errorf("pulse %q: sampled pulse has no samples", s.UID)
		}
		rate := s.SampleRate
		if rate == 0 {
			if s.Length <= 0 {
				return nil, fmt.Errorf("pulse %q: sampled pulse needs a sample_rate or a length", s.UID)
			}
			rate = float64(len(s.Samples)) / s.Length
		}
		samples := make([]complex128, len(s.Samples))
		for i, v := range s.Samples {
			samples[i] = complex(v, 0)
		}
		return pulse.Sampled(s.UID, samples, rate), nil
	default:
		return nil, fmt.Errorf("pulse %q: unknown function %q", s.UID, s.Function)
	}
}

// Build drives the experiment builder through the declared tree.
func (c *ExperimentConfig) Build() (*exp.Experiment, diagnostics.List, error) {
	params, err := c.ParameterSet()
	if err != nil {
		return nil, nil, err
	}
	pulses, err := c.PulseSet()
	if err != nil {
		return nil, nil, err
	}

	b := exp.NewBuilder(c.UID, c.Signals...)
	for _, sec := range c.Sections {
		if err := buildNode(b, sec, params, pulses); err != nil {
			return nil, nil, err
		}
	}
	e, diags := b.Finalize()
	return e, diags, nil
}

func buildNode(b *exp.Builder, n NodeSpec, params map[string]*exp.Parameter, pulses map[string]*pulse.Pulse) error {
	if op, err := buildOperation(b, n, params, pulses); op || err != nil {
		return err
	}

	switch n.Type {
	case "", "section":
		opts := exp.SectionOptions{
			UID:          n.UID,
			Length:       n.Length,
			PlayAfter:    n.PlayAfter,
			OnSystemGrid: n.OnSystemGrid,
		}
		if n.Alignment == "right" {
			opts.Alignment = exp.AlignRight
		}
		for _, t := range n.Triggers {
			opts.Triggers = append(opts.Triggers, exp.TriggerOut{Signal: t.Signal, Bit: t.Bit})
		}
		b.Section(opts)
	case "sweep":
		swept := make([]*exp.Parameter, 0, len(n.Parameters))
		for _, uid := range n.Parameters {
			p, ok := params[uid]
			if !ok {
				return fmt.Errorf("sweep %q: unknown parameter %q", n.UID, uid)
			}
			swept = append(swept, p)
		}
		b.Sweep(n.UID, swept...)
	case "acquire-loop-rt":
		avg := exp.AverageCyclic
		if n.Averaging == "sequential" {
			avg = exp.AverageSequential
		}
		acq := exp.AcquireIntegration
		switch n.Acquisition {
		case "raw":
			acq = exp.AcquireRaw
		case "discrimination":
			acq = exp.AcquireDiscrimination
		case "spectroscopy":
			acq = exp.AcquireSpectroscopy
		}
		b.AcquireLoopRt(n.UID, n.Count, avg, acq)
	case "match":
		b.Match(n.UID, n.Handle, n.Delay)
	case "case":
		if n.State == nil {
			return fmt.Errorf("case %q: missing state", n.UID)
		}
		b.Case(*n.State)
	default:
		return fmt.Errorf("unknown section type %q", n.Type)
	}

	for _, child := range n.Children {
		if err := buildNode(b, child, params, pulses); err != nil {
			return err
		}
	}
	b.End()
	return nil
}

// buildOperation handles leaf nodes, reporting whether the node declared one.
func buildOperation(b *exp.Builder, n NodeSpec, params map[string]*exp.Parameter, pulses map[string]*pulse.Pulse) (bool, error) {
	switch {
	case n.Play != nil:
		p, ok := pulses[n.Play.Pulse]
		if !ok {
			return true, fmt.Errorf("play on %s: unknown pulse %q", n.Play.Signal, n.Play.Pulse)
		}
		opts := &exp.PlayOptions{
			Phase:                    n.Play.Phase,
			SetOscillatorPhase:       n.Play.SetPhase,
			IncrementOscillatorPhase: n.Play.IncrementPhase,
		}
		if n.Play.Amplitude != nil {
			v, err := n.Play.Amplitude.value(params)
			if err != nil {
				return true, err
			}
			opts.Amplitude = &v
		}
		if n.Play.Length != nil {
			v, err := n.Play.Length.value(params)
			if err != nil {
				return true, err
			}
			opts.Length = &v
		}
		b.Play(n.Play.Signal, p, opts)
		return true, nil

	case n.DelayOp != nil:
		v, err := n.DelayOp.Time.value(params)
		if err != nil {
			return true, err
		}
		b.Delay(n.DelayOp.Signal, v)
		return true, nil

	case n.Acquire != nil:
		var kernel *pulse.Pulse
		if n.Acquire.Kernel != "" {
			k, ok := pulses[n.Acquire.Kernel]
			if !ok {
				return true, fmt.Errorf("acquire %s: unknown kernel %q", n.Acquire.Handle, n.Acquire.Kernel)
			}
			kernel = k
		}
		b.Acquire(n.Acquire.Signal, n.Acquire.Handle, kernel, n.Acquire.Length)
		return true, nil

	case n.Reserve != "":
		b.Reserve(n.Reserve)
		return true, nil

	case n.Measure != nil:
		mp, ok := pulses[n.Measure.Pulse]
		if !ok {
			return true, fmt.Errorf("measure on %s: unknown pulse %q", n.Measure.Signal, n.Measure.Pulse)
		}
		var kernel *pulse.Pulse
		if n.Measure.Kernel != "" {
			k, ok := pulses[n.Measure.Kernel]
			if !ok {
				return true, fmt.Errorf("measure %s: unknown kernel %q", n.Measure.Handle, n.Measure.Kernel)
			}
			kernel = k
		}
		b.Measure(n.Measure.Signal, mp, n.Measure.AcquireSignal, n.Measure.Handle, kernel, n.Measure.AcquireDelay)
		return true, nil
	}
	return false, nil
}

func (v *ValueSpec) value(params map[string]*exp.Parameter) (exp.Value, error) {
	if v.Param == "" {
		return exp.Fixed(v.Fixed), nil
	}
	p, ok := params[v.Param]
	if !ok {
		return exp.Value{}, fmt.Errorf("unknown parameter %q", v.Param)
	}
	return exp.Swept(p), nil
}
