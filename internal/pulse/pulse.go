// Package pulse is the waveform library: it turns semantic pulse requests
// into sampled complex envelopes at a device sample rate. Descriptors are
// immutable values identified by uid; the code generator relies on that uid
// for waveform-table deduplication.
package pulse

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/quantumctl/pulsec/internal/config"
)

// Functional names the envelope family of a pulse descriptor.
type Functional string

const (
	FuncConst          Functional = "const"
	FuncGaussian       Functional = "gaussian"
	FuncDrag           Functional = "drag"
	FuncGaussianSquare Functional = "gaussian_square"
	FuncSawtooth       Functional = "sawtooth"
	FuncTriangle       Functional = "triangle"
	FuncSampled        Functional = "sampled"
)

// Pulse is an immutable pulse descriptor.
type Pulse struct {
	UID       string
	Function  Functional
	Length    float64 // seconds
	Amplitude float64
	Phase     float64 // radians, baked into samples at render time

	// Sigma is the standard deviation of gaussian-family envelopes as a
	// fraction of the half-length.
	Sigma float64

	// Beta is the DRAG correction coefficient.
	Beta float64

	// Width is the flat-top width of a gaussian_square pulse, in seconds.
	Width float64

	// Samples holds the explicit envelope of a sampled pulse. The declared
	// Length still governs scheduling; samples are resampled by repetition
	// of the nearest source sample if the device rate differs.
	Samples []complex128
}

func newUID() string {
	return "p_" + uuid.NewString()[:8]
}

// Const creates a constant-amplitude pulse descriptor.
func Const(uid string, length, amplitude float64) *Pulse {
	if uid == "" {
		uid = newUID()
	}
	return &Pulse{UID: uid, Function: FuncConst, Length: length, Amplitude: amplitude}
}

// Gaussian creates a gaussian envelope descriptor. A sigma of zero selects
// the default fraction of the pulse half-length.
func Gaussian(uid string, length, amplitude, sigma float64) *Pulse {
	if uid == "" {
		uid = newUID()
	}
	if sigma == 0 {
		sigma = config.DefaultGaussianSigmaFraction
	}
	return &Pulse{UID: uid, Function: FuncGaussian, Length: length, Amplitude: amplitude, Sigma: sigma}
}

// Drag creates a DRAG descriptor: a gaussian with a scaled derivative on the
// quadrature component.
func Drag(uid string, length, amplitude, sigma, beta float64) *Pulse {
	p := Gaussian(uid, length, amplitude, sigma)
	p.Function = FuncDrag
	p.Beta = beta
	return p
}

// GaussianSquare creates a flat-top pulse with gaussian rise and fall.
func GaussianSquare(uid string, length, width, amplitude, sigma float64) *Pulse {
	p := Gaussian(uid, length, amplitude, sigma)
	p.Function = FuncGaussianSquare
	p.Width = width
	return p
}

// Sawtooth creates a linear ramp envelope.
func Sawtooth(uid string, length, amplitude float64) *Pulse {
	if uid == "" {
		uid = newUID()
	}
	return &Pulse{UID: uid, Function: FuncSawtooth, Length: length, Amplitude: amplitude}
}

// Triangle creates a symmetric triangular envelope.
func Triangle(uid string, length, amplitude float64) *Pulse {
	if uid == "" {
		uid = newUID()
	}
	return &Pulse{UID: uid, Function: FuncTriangle, Length: length, Amplitude: amplitude}
}

// Sampled wraps explicit envelope samples taken at sampleRate.
func Sampled(uid string, samples []complex128, sampleRate float64) *Pulse {
	if uid == "" {
		uid = newUID()
	}
	cp := make([]complex128, len(samples))
	copy(cp, samples)
	return &Pulse{
		UID:       uid,
		Function:  FuncSampled,
		Length:    float64(len(samples)) / sampleRate,
		Amplitude: 1.0,
		Samples:   cp,
	}
}

// RenderOptions override descriptor defaults for a single playback.
type RenderOptions struct {
	Amplitude *float64
	Phase     *float64
	Length    *float64 // seconds
}

// Render samples the pulse envelope at the given rate. The returned slice has
// round(length*rate) samples; grid padding is the scheduler's concern, not the
// library's.
func (p *Pulse) Render(rateHz float64, opts *RenderOptions) ([]complex128, error) {
	if rateHz <= 0 {
		return nil, fmt.Errorf("pulse %s: invalid sample rate %v", p.UID, rateHz)
	}
	length := p.Length
	amplitude := p.Amplitude
	if amplitude == 0 {
		// An unset descriptor amplitude selects the default. Overrides
		// below are taken verbatim, zero included.
		amplitude = config.DefaultAmplitude
	}
	phase := p.Phase
	if opts != nil {
		if opts.Length != nil {
			length = *opts.Length
		}
		if opts.Amplitude != nil {
			amplitude = *opts.Amplitude
		}
		if opts.Phase != nil {
			phase = *opts.Phase
		}
	}
	if length <= 0 {
		return nil, fmt.Errorf("pulse %s: non-positive length %v", p.UID, length)
	}

	n := int(length*rateHz + 0.5)
	if n < 1 {
		n = 1
	}
	out := make([]complex128, n)
	rot := complex(math.Cos(phase), math.Sin(phase))

	switch p.Function {
	case FuncConst:
		for i := range out {
			out[i] = complex(amplitude, 0) * rot
		}
	case FuncGaussian:
		// Sigma is a fraction of the half-length, so the default third
		// puts the edges near three standard deviations out.
		sigma := p.Sigma * float64(n) / 2
		mid := float64(n-1) / 2
		for i := range out {
			x := (float64(i) - mid) / sigma
			out[i] = complex(amplitude*math.Exp(-0.5*x*x), 0) * rot
		}
	case FuncDrag:
		sigma := p.Sigma * float64(n) / 2
		mid := float64(n-1) / 2
		for i := range out {
			x := (float64(i) - mid) / sigma
			g := math.Exp(-0.5 * x * x)
			// Quadrature carries the scaled derivative of the gaussian.
			d := -x / sigma * g
			out[i] = complex(amplitude*g, amplitude*p.Beta*d) * rot
		}
	case FuncGaussianSquare:
		flat := int(p.Width*rateHz + 0.5)
		if flat > n {
			flat = n
		}
		rise := (n - flat) / 2
		// The rise is one half of an implied full gaussian, so rise+1 is
		// already that gaussian's half-length.
		sigma := p.Sigma * float64(rise+1)
		for i := range out {
			var g float64
			switch {
			case i < rise:
				x := float64(i-rise) / sigma
				g = math.Exp(-0.5 * x * x)
			case i >= n-rise:
				x := float64(i-(n-rise-1)) / sigma
				g = math.Exp(-0.5 * x * x)
			default:
				g = 1.0
			}
			out[i] = complex(amplitude*g, 0) * rot
		}
	case FuncSawtooth:
		for i := range out {
			out[i] = complex(amplitude*(2*float64(i)/float64(n)-1), 0) * rot
		}
	case FuncTriangle:
		for i := range out {
			frac := float64(i) / float64(n)
			v := 2 * frac
			if frac > 0.5 {
				v = 2 - 2*frac
			}
			out[i] = complex(amplitude*v, 0) * rot
		}
	case FuncSampled:
		if len(p.Samples) == 0 {
			return nil, fmt.Errorf("pulse %s: sampled pulse without samples", p.UID)
		}
		for i := range out {
			src := i * len(p.Samples) / n
			out[i] = p.Samples[src] * complex(amplitude, 0) * rot
		}
	default:
		return nil, fmt.Errorf("pulse %s: unknown envelope function %q", p.UID, p.Function)
	}
	return out, nil
}
