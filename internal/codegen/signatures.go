package codegen

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/quantumctl/pulsec/internal/pulse"
)

// waveSignature captures everything that determines the rendered samples of a
// playback. Two plays with equal signatures share one waveform table entry.
type waveSignature struct {
	PulseUID  string
	Function  pulse.Functional
	Samples   int
	Amplitude float64
	Phase     float64
	Sigma     float64
	Beta      float64
	Width     float64
}

// hash returns the canonical content hash of the signature.
func (sig waveSignature) hash() string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%d|%.12g|%.12g|%.12g|%.12g|%.12g",
		sig.PulseUID, sig.Function, sig.Samples,
		sig.Amplitude, sig.Phase, sig.Sigma, sig.Beta, sig.Width)
	return hex.EncodeToString(h.Sum(nil))
}

// waveTable deduplicates rendered envelopes per device program.
type waveTable struct {
	prog    *Program
	indexOf map[string]int
}

func newWaveTable(prog *Program) *waveTable {
	return &waveTable{prog: prog, indexOf: map[string]int{}}
}

// intern renders the waveform for sig if it has not been seen before and
// returns its table index. Names follow the "w<index>_<hash7>" convention so
// a table dump is readable while staying collision-free.
func (t *waveTable) intern(sig waveSignature, signal string, samples []complex128) int {
	key := sig.hash()
	if idx, ok := t.indexOf[key]; ok {
		return idx
	}
	entry := WaveformEntry{
		Name:      fmt.Sprintf("w%d_%s", len(t.prog.Waveforms), key[:7]),
		Signature: key,
		Signal:    signal,
		SamplesI:  make([]float64, len(samples)),
		SamplesQ:  make([]float64, len(samples)),
	}
	for i, s := range samples {
		entry.SamplesI[i] = real(s)
		entry.SamplesQ[i] = imag(s)
	}
	idx := len(t.prog.Waveforms)
	t.prog.Waveforms = append(t.prog.Waveforms, entry)
	t.indexOf[key] = idx
	return idx
}
