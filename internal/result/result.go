// Package result folds the flat shot streams delivered by the acquisition
// devices into the sweep-shaped arrays the experiment declared, applying the
// averaging-mode-dependent index order and optional state discrimination.
package result

import (
	"fmt"

	"github.com/quantumctl/pulsec/internal/artifact"
	"github.com/quantumctl/pulsec/internal/exp"
)

// HandleResult is the assembled data of one acquisition handle. Dims are the
// near-time extents followed by the real-time sweep extents; Values is the
// row-major flattening.
type HandleResult struct {
	Handle string
	Dims   []int
	Values []complex128
}

// At indexes the assembled array. The number of indices must match Dims.
func (r *HandleResult) At(indices ...int) (complex128, error) {
	if len(indices) != len(r.Dims) {
		return 0, fmt.Errorf("handle %s: got %d indices for %d dimensions",
			r.Handle, len(indices), len(r.Dims))
	}
	flat := 0
	for i, idx := range indices {
		if idx < 0 || idx >= r.Dims[i] {
			return 0, fmt.Errorf("handle %s: index %d out of range for dimension %d (extent %d)",
				r.Handle, idx, i, r.Dims[i])
		}
		flat = flat*r.Dims[i] + idx
	}
	return r.Values[flat], nil
}

// Assembler reshapes shot streams according to a compiled result shape.
type Assembler struct {
	shape artifact.ResultShape
}

func New(shape artifact.ResultShape) *Assembler {
	return &Assembler{shape: shape}
}

// Points is the number of distinct measurement points per handle: the
// product of all near-time and real-time sweep extents.
func (a *Assembler) Points() int {
	n := 1
	for _, d := range a.shape.NTDims {
		n *= d
	}
	for _, d := range a.shape.SweepDims {
		n *= d
	}
	return n
}

// ExpectedShots is the raw shot count a device delivers per handle.
func (a *Assembler) ExpectedShots() int {
	avg := a.shape.AverageCount
	if avg < 1 {
		avg = 1
	}
	return a.Points() * avg
}

// Assemble averages the shot stream of one handle into its declared shape.
// The stream arrives in hardware delivery order: near-time steps outermost,
// then averages-over-points for cyclic averaging or points-over-averages for
// sequential.
func (a *Assembler) Assemble(handle string, shots []complex128) (*HandleResult, error) {
	if err := a.checkHandle(handle); err != nil {
		return nil, err
	}
	if len(shots) != a.ExpectedShots() {
		return nil, fmt.Errorf("handle %s: got %d shots, expected %d", handle, len(shots), a.ExpectedShots())
	}

	avg := a.shape.AverageCount
	if avg < 1 {
		avg = 1
	}
	ntTotal := 1
	for _, d := range a.shape.NTDims {
		ntTotal *= d
	}
	rtTotal := 1
	for _, d := range a.shape.SweepDims {
		rtTotal *= d
	}

	values := make([]complex128, ntTotal*rtTotal)
	for nt := 0; nt < ntTotal; nt++ {
		base := nt * avg * rtTotal
		for s := 0; s < rtTotal; s++ {
			var sum complex128
			for k := 0; k < avg; k++ {
				sum += shots[base+a.shotOffset(s, k, rtTotal, avg)]
			}
			values[nt*rtTotal+s] = sum / complex(float64(avg), 0)
		}
	}

	return &HandleResult{Handle: handle, Dims: a.dims(), Values: values}, nil
}

// AssembleDiscriminated thresholds each shot into a 0/1 state before
// averaging, so an assembled cell is the excited-state probability of that
// point. The threshold comes from the acquiring line's calibration.
func (a *Assembler) AssembleDiscriminated(handle string, shots []complex128, threshold float64) (*HandleResult, error) {
	if a.shape.Acquisition != exp.AcquireDiscrimination {
		return nil, fmt.Errorf("handle %s: acquisition type is %s, not discrimination",
			handle, a.shape.Acquisition)
	}
	states := make([]complex128, len(shots))
	for i, s := range shots {
		if real(s) > threshold {
			states[i] = 1
		}
	}
	return a.Assemble(handle, states)
}

// AssembleRaw groups per-shot sample windows without averaging across them.
// The returned slice is indexed shot-major in delivery order; raw acquisition
// is a debugging aid and keeps every window intact.
func (a *Assembler) AssembleRaw(handle string, windows [][]complex128) ([][]complex128, error) {
	if err := a.checkHandle(handle); err != nil {
		return nil, err
	}
	if len(windows) != a.ExpectedShots() {
		return nil, fmt.Errorf("handle %s: got %d raw windows, expected %d",
			handle, len(windows), a.ExpectedShots())
	}
	out := make([][]complex128, len(windows))
	copy(out, windows)
	return out, nil
}

// shotOffset maps a (point, average) pair to its offset within one near-time
// step of the delivery stream.
func (a *Assembler) shotOffset(point, average, rtTotal, avg int) int {
	if a.shape.Averaging == exp.AverageSequential {
		// Sequential: all averages of a point are adjacent.
		return point*avg + average
	}
	// Cyclic: one full sweep pass per average.
	return average*rtTotal + point
}

func (a *Assembler) dims() []int {
	dims := make([]int, 0, len(a.shape.NTDims)+len(a.shape.SweepDims))
	dims = append(dims, a.shape.NTDims...)
	dims = append(dims, a.shape.SweepDims...)
	if len(dims) == 0 {
		dims = []int{1}
	}
	return dims
}

func (a *Assembler) checkHandle(handle string) error {
	for _, h := range a.shape.Handles {
		if h == handle {
			return nil
		}
	}
	return fmt.Errorf("unknown acquisition handle %q", handle)
}
