// Package artifact packages the compiler output into a single self-describing
// bundle: the per-device programs, the schedule manifest, the feedback
// resolutions and the result shape descriptor, serialized into a framed
// binary format with a content hash for caching.
package artifact

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"github.com/quantumctl/pulsec/internal/codegen"
	"github.com/quantumctl/pulsec/internal/exp"
	"github.com/quantumctl/pulsec/internal/feedback"
	"github.com/quantumctl/pulsec/internal/scheduler"
)

func init() {
	gob.Register(&CompiledExperiment{})
}

// HandleSignal binds an acquisition handle to the experiment signal it
// records on. A sorted slice instead of a map keeps the encoding stable.
type HandleSignal struct {
	Handle string
	Signal string
}

// ResultShape tells the result assembler how to fold the flat shot stream
// delivered by the devices.
type ResultShape struct {
	// SweepDims are the real-time sweep extents, outermost first.
	SweepDims []int

	// NTDims are the near-time sweep extents, outermost first.
	NTDims []int

	AverageCount int
	Averaging    exp.AveragingMode
	Acquisition  exp.AcquisitionType

	// Handles lists the acquisition handles, sorted.
	Handles []string

	HandleSignals []HandleSignal
}

// CompiledExperiment is the complete, deterministic compiler output for one
// experiment. Every slice is emitted in a stable order so two compilations of
// the same input serialize identically.
type CompiledExperiment struct {
	ExperimentUID string

	// Programs holds one device program per participating device, sorted
	// by device uid.
	Programs []*codegen.Program

	// Manifest is the flattened schedule event list.
	Manifest []scheduler.Event

	// Feedback holds the certified match resolutions, sorted by match
	// uid.
	Feedback []feedback.Resolution

	Shape ResultShape

	SystemGrid int64
	NTSteps    int
	TotalTicks int64
}

const formatVersion byte = 0x01

// magic is the artifact frame header.
var magic = [4]byte{'P', 'L', 'S', 'C'}

// Serialize converts the artifact to its binary format.
// Format:
// - Magic number (4 bytes): "PLSC"
// - Version (1 byte): 0x01
// - Gob-encoded CompiledExperiment data
func (c *CompiledExperiment) Serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	buf.Write(magic[:])
	buf.WriteByte(formatVersion)

	enc := gob.NewEncoder(buf)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("artifact gob encoding failed: %w", err)
	}

	return buf.Bytes(), nil
}

// Deserialize reads a serialized artifact back.
func Deserialize(data []byte) (*CompiledExperiment, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("artifact data too short")
	}
	if !bytes.Equal(data[:4], magic[:]) {
		return nil, fmt.Errorf("invalid magic number, expected PLSC")
	}
	version := data[4]
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported artifact version: %d (this binary supports version %d)",
			version, formatVersion)
	}

	dec := gob.NewDecoder(bytes.NewReader(data[5:]))
	var out CompiledExperiment
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("artifact gob decoding failed: %w", err)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("artifact validation failed: %w", err)
	}
	return &out, nil
}

// Hash is the content hash of the serialized artifact, usable as a cache key
// for the compiled output itself.
func (c *CompiledExperiment) Hash() (string, error) {
	data, err := c.Serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Validate checks the structural integrity of a deserialized artifact.
func (c *CompiledExperiment) Validate() error {
	if c.ExperimentUID == "" {
		return fmt.Errorf("artifact has no experiment uid")
	}
	if len(c.Programs) == 0 {
		return fmt.Errorf("artifact has no device programs")
	}
	for i, p := range c.Programs {
		if p == nil {
			return fmt.Errorf("program %d is nil", i)
		}
		if len(p.Code) == 0 {
			return fmt.Errorf("device %q has empty code", p.Device)
		}
		if i > 0 && c.Programs[i-1].Device >= p.Device {
			return fmt.Errorf("programs are not sorted by device uid at %q", p.Device)
		}
	}
	return nil
}

// ProgramFor returns the program of a device, or nil.
func (c *CompiledExperiment) ProgramFor(device string) *codegen.Program {
	for _, p := range c.Programs {
		if p.Device == device {
			return p
		}
	}
	return nil
}
