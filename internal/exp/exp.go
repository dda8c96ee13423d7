// Package exp defines the experiment intermediate representation: the
// immutable tree of sections, sweeps, loops and leaf operations that the
// resolver, scheduler and code generator consume. The tree is produced by a
// Builder and never mutated afterwards.
package exp

import "fmt"

// Alignment governs how a section packs its children.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

func (a Alignment) String() string {
	if a == AlignRight {
		return "right"
	}
	return "left"
}

// ExecutionType distinguishes host-driven from hardware-resident constructs.
type ExecutionType int

const (
	NearTime ExecutionType = iota
	RealTime
)

// AveragingMode selects how a real-time acquisition loop repeats its body.
type AveragingMode int

const (
	// AverageCyclic performs one pass per average across all sweep points.
	AverageCyclic AveragingMode = iota
	// AverageSequential repeats the innermost structure per sweep point.
	AverageSequential
)

func (m AveragingMode) String() string {
	if m == AverageSequential {
		return "sequential"
	}
	return "cyclic"
}

// AcquisitionType selects what the hardware records per shot.
type AcquisitionType int

const (
	AcquireIntegration AcquisitionType = iota
	AcquireRaw
	AcquireDiscrimination
	AcquireSpectroscopy
)

func (t AcquisitionType) String() string {
	switch t {
	case AcquireRaw:
		return "raw"
	case AcquireDiscrimination:
		return "discrimination"
	case AcquireSpectroscopy:
		return "spectroscopy"
	default:
		return "integration"
	}
}

// Parameter is a named sweepable scalar. Values are fixed at declaration
// time; linear ranges are expanded eagerly so downstream stages only ever see
// the explicit list.
type Parameter struct {
	UID    string
	Values []float64
}

// LinearParameter expands a linear range into an explicit value list.
func LinearParameter(uid string, start, stop float64, count int) *Parameter {
	values := make([]float64, count)
	if count == 1 {
		values[0] = start
	} else {
		step := (stop - start) / float64(count-1)
		for i := range values {
			values[i] = start + float64(i)*step
		}
	}
	return &Parameter{UID: uid, Values: values}
}

// ListParameter wraps an explicit value list.
func ListParameter(uid string, values []float64) *Parameter {
	cp := make([]float64, len(values))
	copy(cp, values)
	return &Parameter{UID: uid, Values: cp}
}

// Value is a scalar that is either fixed or bound to a swept parameter.
type Value struct {
	Fixed float64
	Param *Parameter
}

// Fixed wraps a constant value.
func Fixed(v float64) Value { return Value{Fixed: v} }

// Swept binds the value to a parameter.
func Swept(p *Parameter) Value { return Value{Param: p} }

// At resolves the value for a given sweep iteration. Fixed values ignore the
// iteration index.
func (v Value) At(iteration int) (float64, error) {
	if v.Param == nil {
		return v.Fixed, nil
	}
	if iteration < 0 || iteration >= len(v.Param.Values) {
		return 0, fmt.Errorf("parameter %s: iteration %d out of range (%d values)",
			v.Param.UID, iteration, len(v.Param.Values))
	}
	return v.Param.Values[iteration], nil
}

// IsSwept reports whether the value is parameter-bound.
func (v Value) IsSwept() bool { return v.Param != nil }
