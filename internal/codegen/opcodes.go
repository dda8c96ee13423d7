// Package codegen walks a time-annotated schedule once per physical device
// and emits the device program: a deduplicated waveform table plus a
// control-flow byte program in an abstract instruction set covering playback,
// waits, acquisition, loops, synchronization markers and state branches.
package codegen

// Opcode represents a single device program instruction.
type Opcode byte

const (
	OpNop Opcode = iota

	// Playback
	OpPlayWave // u16 waveform table index
	OpPlayCT   // u16 command table group index

	// Timing
	OpWait // u32 idle duration in device samples

	// Acquisition
	OpAcquire // u16 handle index, u32 window in samples

	// Loops
	OpLoopEnter // u32 trip count, u16 parameter table index (0xffff = none)
	OpLoopExit

	// Cross-device synchronization
	OpSyncEmit // u16 marker index
	OpSyncWait // u16 marker index

	// Oscillator control
	OpSetOscFreq    // u16 parameter table index, stepped per loop iteration
	OpSetOscFreqImm // u32 frequency in Hz
	OpSetPhase      // u32 phase as a fraction of 2 pi in 1/2^32 units
	OpIncPhase      // u32 phase increment, same encoding

	// Section trigger outputs
	OpSetTrigger   // u8 bit mask
	OpClearTrigger // u8 bit mask

	// Feedback
	OpBranch // u16 handle index, u8 case count, then (u8 state, u32 target) per case
	OpJump   // u32 absolute code offset

	OpEnd
)

func (op Opcode) String() string {
	switch op {
	case OpNop:
		return "NOP"
	case OpPlayWave:
		return "PLAY_WAVE"
	case OpPlayCT:
		return "PLAY_CT"
	case OpWait:
		return "WAIT"
	case OpAcquire:
		return "ACQUIRE"
	case OpLoopEnter:
		return "LOOP_ENTER"
	case OpLoopExit:
		return "LOOP_EXIT"
	case OpSyncEmit:
		return "SYNC_EMIT"
	case OpSyncWait:
		return "SYNC_WAIT"
	case OpSetOscFreq:
		return "SET_OSC_FREQ"
	case OpSetOscFreqImm:
		return "SET_OSC_FREQ_IMM"
	case OpSetPhase:
		return "SET_PHASE"
	case OpIncPhase:
		return "INC_PHASE"
	case OpSetTrigger:
		return "SET_TRIGGER"
	case OpClearTrigger:
		return "CLEAR_TRIGGER"
	case OpBranch:
		return "BRANCH"
	case OpJump:
		return "JUMP"
	case OpEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}
