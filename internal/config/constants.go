package config

// TicksPerSecond is the resolution of the shared reference clock used for all
// absolute times produced by the scheduler. It is chosen so that one sample
// period of every supported device class is an integer number of ticks.
const TicksPerSecond = 3_600_000_000_000 // 3.6 THz

// TicksPerNanosecond is a convenience factor for converting declared latencies.
const TicksPerNanosecond = TicksPerSecond / 1_000_000_000

// Feedback latency floors between the end of an acquisition and the earliest
// point a dependent branch may evaluate its state.
const (
	// LocalFeedbackFloorNs applies when decision and playback run on the
	// same physical unit.
	LocalFeedbackFloorNs = 100

	// GlobalFeedbackFloorNs applies when the decision travels through the
	// synchronization hub to a different unit.
	GlobalFeedbackFloorNs = 400
)

// DefaultAmplitude is applied to pulses that do not override it.
const DefaultAmplitude = 1.0

// DefaultGaussianSigmaFraction is the sigma of gaussian-family envelopes as a
// fraction of the pulse half-length when not given explicitly.
const DefaultGaussianSigmaFraction = 1.0 / 3.0

// PhaseResolution is the quantization applied to phases that end up in
// command-table registers, to keep equal phases hashing equally.
const PhaseResolution = 1 << 24

// ArtifactCacheFile is the default file name of the compile cache database.
const ArtifactCacheFile = "pulsec-cache.db"

// SecondsToTicks converts a duration in seconds to reference-clock ticks,
// rounding to the nearest tick.
func SecondsToTicks(seconds float64) int64 {
	if seconds <= 0 {
		return 0
	}
	return int64(seconds*TicksPerSecond + 0.5)
}

// TicksToSeconds converts reference-clock ticks back to seconds.
func TicksToSeconds(ticks int64) float64 {
	return float64(ticks) / TicksPerSecond
}

// NanosToTicks converts a duration in nanoseconds to reference-clock ticks.
func NanosToTicks(ns int64) int64 {
	return ns * TicksPerNanosecond
}

// RoundUpToGrid rounds ticks up to the next multiple of grid. A grid of zero
// or one leaves the value unchanged.
func RoundUpToGrid(ticks, grid int64) int64 {
	if grid <= 1 {
		return ticks
	}
	rem := ticks % grid
	if rem == 0 {
		return ticks
	}
	return ticks + grid - rem
}

// LCM returns the least common multiple of a and b.
func LCM(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	return a / GCD(a, b) * b
}

// GCD returns the greatest common divisor of a and b.
func GCD(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
