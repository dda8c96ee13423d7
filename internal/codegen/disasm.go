package codegen

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of a device program.
func Disassemble(p *Program) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== %s (%s @ %.4g GS/s) ==\n", p.Device, p.Class, p.SampleRateHz/1e9))

	offset := 0
	for offset < len(p.Code) {
		offset = disassembleInstruction(&sb, p, offset)
	}

	if len(p.Waveforms) > 0 {
		sb.WriteString("-- waveforms --\n")
		for i, w := range p.Waveforms {
			sb.WriteString(fmt.Sprintf("%4d %s %s (%d samples)\n", i, w.Name, w.Signal, len(w.SamplesI)))
		}
	}
	if len(p.CommandTable) > 0 {
		sb.WriteString("-- command table --\n")
		for _, e := range p.CommandTable {
			sb.WriteString(fmt.Sprintf("  g%d[%d] wave=%d amp=%.4g phase=%.4g\n",
				e.Group, e.Iteration, e.Waveform, e.Amplitude, e.Phase))
		}
	}

	return sb.String()
}

func disassembleInstruction(sb *strings.Builder, p *Program, offset int) int {
	sb.WriteString(fmt.Sprintf("%04d ", offset))

	op := Opcode(p.Code[offset])

	switch op {
	case OpNop, OpLoopExit, OpEnd:
		return simpleInstruction(sb, op.String(), offset)

	case OpPlayWave, OpPlayCT, OpSetOscFreq:
		return u16Instruction(sb, op.String(), p, offset)

	case OpSyncEmit, OpSyncWait:
		idx := int(binary.LittleEndian.Uint16(p.Code[offset+1:]))
		marker := "(invalid)"
		if idx < len(p.Markers) {
			marker = p.Markers[idx]
		}
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s'\n", op.String(), idx, marker))
		return offset + 3

	case OpWait, OpSetOscFreqImm, OpSetPhase, OpIncPhase, OpJump:
		return u32Instruction(sb, op.String(), p, offset)

	case OpAcquire:
		idx := int(binary.LittleEndian.Uint16(p.Code[offset+1:]))
		samples := binary.LittleEndian.Uint32(p.Code[offset+3:])
		handle := "(invalid)"
		if idx < len(p.Handles) {
			handle = p.Handles[idx]
		}
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s' (%d samples)\n", op.String(), idx, handle, samples))
		return offset + 7

	case OpLoopEnter:
		count := binary.LittleEndian.Uint32(p.Code[offset+1:])
		table := binary.LittleEndian.Uint16(p.Code[offset+5:])
		if table == noParamTable {
			sb.WriteString(fmt.Sprintf("%-16s %4d\n", op.String(), count))
		} else {
			sb.WriteString(fmt.Sprintf("%-16s %4d (table %d)\n", op.String(), count, table))
		}
		return offset + 7

	case OpSetTrigger, OpClearTrigger:
		sb.WriteString(fmt.Sprintf("%-16s 0b%b\n", op.String(), p.Code[offset+1]))
		return offset + 2

	case OpBranch:
		idx := int(binary.LittleEndian.Uint16(p.Code[offset+1:]))
		count := int(p.Code[offset+3])
		handle := "(invalid)"
		if idx < len(p.Handles) {
			handle = p.Handles[idx]
		}
		sb.WriteString(fmt.Sprintf("%-16s %4d '%s' (%d cases)\n", op.String(), idx, handle, count))
		pos := offset + 4
		for i := 0; i < count; i++ {
			state := p.Code[pos]
			target := binary.LittleEndian.Uint32(p.Code[pos+1:])
			sb.WriteString(fmt.Sprintf("        state %d -> %04d\n", state, target))
			pos += 5
		}
		return pos

	default:
		sb.WriteString(fmt.Sprintf("Unknown opcode %d\n", op))
		return offset + 1
	}
}

func simpleInstruction(sb *strings.Builder, name string, offset int) int {
	sb.WriteString(fmt.Sprintf("%s\n", name))
	return offset + 1
}

func u16Instruction(sb *strings.Builder, name string, p *Program, offset int) int {
	v := binary.LittleEndian.Uint16(p.Code[offset+1:])
	sb.WriteString(fmt.Sprintf("%-16s %4d\n", name, v))
	return offset + 3
}

func u32Instruction(sb *strings.Builder, name string, p *Program, offset int) int {
	v := binary.LittleEndian.Uint32(p.Code[offset+1:])
	sb.WriteString(fmt.Sprintf("%-16s %4d\n", name, v))
	return offset + 5
}
