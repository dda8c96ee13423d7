package codegen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/quantumctl/pulsec/internal/device"
)

// WaveformEntry is one deduplicated sample envelope in a device waveform table.
type WaveformEntry struct {
	Name      string // stable name derived from the envelope signature
	Signature string // content hash the entry was deduplicated under
	Signal    string // logical signal the waveform is routed to
	SamplesI  []float64
	SamplesQ  []float64
}

// CTEntry is one command table row: a waveform reference with per-iteration
// real-time modifiers applied by the sequencer without re-uploading samples.
type CTEntry struct {
	Group     int // group selected by OpPlayCT; the active loop counter picks the row
	Iteration int
	Waveform  int // waveform table index
	Amplitude float64
	Phase     float64
}

// ParamTable holds the per-iteration values of one swept parameter as the
// device consumes them.
type ParamTable struct {
	UID    string
	Values []float64
}

// PortDelayEntry records a calibration port delay the transport layer applies
// outside the sequenced timeline.
type PortDelayEntry struct {
	Signal string
	Delay  float64 // seconds
}

// Program is the compiled artifact for a single device. All tables are
// slices with deterministic ordering so two compilations of the same input
// serialize byte-for-byte identically.
type Program struct {
	Device       string
	Class        device.Class
	SampleRateHz float64

	Code         []byte
	Waveforms    []WaveformEntry
	CommandTable []CTEntry
	Handles      []string // acquisition handles recorded by this device, in first-use order
	Markers      []string // marker ids this program emits or waits on, in first-use order
	ParamTables  []ParamTable
	PortDelays   []PortDelayEntry
}

const noParamTable = 0xffff

// emit appends an opcode with its operands to the code stream. Operand widths
// follow the encoding documented next to each opcode.
func (p *Program) emit(op Opcode, operands ...uint32) {
	p.Code = append(p.Code, byte(op))
	switch op {
	case OpPlayWave, OpPlayCT, OpSyncEmit, OpSyncWait, OpSetOscFreq:
		p.emitU16(uint16(operands[0]))
	case OpWait, OpSetOscFreqImm, OpSetPhase, OpIncPhase, OpJump:
		p.emitU32(operands[0])
	case OpAcquire:
		p.emitU16(uint16(operands[0]))
		p.emitU32(operands[1])
	case OpLoopEnter:
		p.emitU32(operands[0])
		p.emitU16(uint16(operands[1]))
	case OpSetTrigger, OpClearTrigger:
		p.Code = append(p.Code, byte(operands[0]))
	}
}

func (p *Program) emitU16(v uint16) {
	p.Code = binary.LittleEndian.AppendUint16(p.Code, v)
}

func (p *Program) emitU32(v uint32) {
	p.Code = binary.LittleEndian.AppendUint32(p.Code, v)
}

// emitBranch writes a branch header with placeholder targets and returns the
// patch offsets, one per case, in the order given.
func (p *Program) emitBranch(handleIdx int, states []int) []int {
	p.Code = append(p.Code, byte(OpBranch))
	p.emitU16(uint16(handleIdx))
	p.Code = append(p.Code, byte(len(states)))
	sites := make([]int, len(states))
	for i, st := range states {
		p.Code = append(p.Code, byte(st))
		sites[i] = len(p.Code)
		p.emitU32(0)
	}
	return sites
}

// emitJump writes an unconditional jump with a placeholder target and returns
// the patch offset.
func (p *Program) emitJump() int {
	p.Code = append(p.Code, byte(OpJump))
	site := len(p.Code)
	p.emitU32(0)
	return site
}

// patch rewrites a previously emitted placeholder target with the current
// code position.
func (p *Program) patch(site int) {
	binary.LittleEndian.PutUint32(p.Code[site:], uint32(len(p.Code)))
}

// handleIndex interns an acquisition handle in first-use order. Indices are
// baked into emitted code and must never shift.
func (p *Program) handleIndex(handle string) int {
	for i, h := range p.Handles {
		if h == handle {
			return i
		}
	}
	p.Handles = append(p.Handles, handle)
	return len(p.Handles) - 1
}

// markerIndex interns a marker id in first-use order.
func (p *Program) markerIndex(id string) int {
	for i, m := range p.Markers {
		if m == id {
			return i
		}
	}
	p.Markers = append(p.Markers, id)
	return len(p.Markers) - 1
}

// paramTableIndex interns a parameter value table.
func (p *Program) paramTableIndex(uid string, values []float64) int {
	for i, t := range p.ParamTables {
		if t.UID == uid {
			return i
		}
	}
	p.ParamTables = append(p.ParamTables, ParamTable{UID: uid, Values: values})
	return len(p.ParamTables) - 1
}

// phaseWord encodes a phase in radians as a fraction of a full turn in
// 1/2^32 units.
func phaseWord(rad float64) uint32 {
	turns := rad / (2 * math.Pi)
	turns -= math.Floor(turns)
	return uint32(math.Round(turns * float64(1<<32)))
}

func (p *Program) validateOperandRange(name string, v int, max int) error {
	if v < 0 || v > max {
		return fmt.Errorf("%s operand %d out of range for %s", name, v, p.Device)
	}
	return nil
}
