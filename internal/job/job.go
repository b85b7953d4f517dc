// Package job defines the domain entities shared by discovery, the
// metadata probe cache, the encoder supervisor, and the scheduler.
package job

import (
	"github.com/google/uuid"
)

// Status is a Job's position in its state machine (§4.4).
type Status int

const (
	// StatusPending means the Job has been created but not yet submitted
	// to a supervisor.
	StatusPending Status = iota
	// StatusProcessing means a supervisor currently owns the Job.
	StatusProcessing
	// StatusCompleted is terminal: the encode succeeded (possibly with the
	// output replaced by a byte-copy of the source under the ratio gate).
	StatusCompleted
	// StatusFailed is terminal: the encode failed and a .err marker was written.
	StatusFailed
	// StatusHWCap is terminal: the encoder reported a hardware-capability
	// failure; a .err marker carrying the classifier signature was written.
	StatusHWCap
	// StatusInterrupted is terminal: cooperative cancellation was observed;
	// no .err marker is written.
	StatusInterrupted
	// StatusSkipped is terminal: a pre-execution filter (av1-skip,
	// camera-skip, output-collision) excluded the Job before any supervisor
	// ran; no markers are written.
	StatusSkipped
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusHWCap:
		return "hw_cap"
	case StatusInterrupted:
		return "interrupted"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is one of the Job state machine's
// final states.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusProcessing
}

// Metadata holds technical attributes of a SourceFile, extracted once and
// cached by path (§4.3).
type Metadata struct {
	Width      int
	Height     int
	FrameRate  int // rounded; suppressed (0) if the raw value is implausible (>240)
	Codec      string
	Camera     string // empty if no deep-metadata tool available or no tags found
	Duration   float64
	ColorSpace string // literal tag; "reserved" triggers the color-repair sub-pipeline
}

// NeedsColorRepair reports whether the color-space tag is the literal
// signature that triggers the color-repair sub-pipeline.
func (m *Metadata) NeedsColorRepair() bool {
	return m != nil && m.ColorSpace == "reserved"
}

// SourceFile is an immutable (once created) reference to one discovered
// input file.
type SourceFile struct {
	Path     string
	Size     int64
	Metadata *Metadata // nil until probed
}

// Job references one SourceFile through one supervised attempt at
// producing an output (§3).
type Job struct {
	ID           uuid.UUID
	Source       *SourceFile
	OutputPath   string
	Status       Status
	ErrorMessage string
	Rotation     int // one of {0, 90, 180, 270}
	EffectiveCQ  int
	Duration     float64 // recorded wall-clock duration of the attempt, seconds
}

// NewJob creates a Job in the PENDING state for the given source and
// resolved output path.
func NewJob(source *SourceFile, outputPath string, rotation, effectiveCQ int) *Job {
	return &Job{
		ID:          uuid.New(),
		Source:      source,
		OutputPath:  outputPath,
		Status:      StatusPending,
		Rotation:    rotation,
		EffectiveCQ: effectiveCQ,
	}
}
