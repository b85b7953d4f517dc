// Package markerstore reads and writes the per-output sentinel files
// (`.tmp`, `.err`) that record in-progress and terminal-failure state on
// disk, making the orchestrator stateless across runs (§4.1, §6).
package markerstore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	vberrors "github.com/five82/vbcompress/internal/errors"
)

const (
	// TmpSuffix marks an output as claimed/in-progress.
	TmpSuffix = ".tmp"
	// ErrSuffix marks an output's last attempt as terminally failed.
	ErrSuffix = ".err"
	// ColorFixSuffix is the transient color-repair intermediate naming scheme.
	ColorFixSuffix = "_colorfix.mp4"

	// HWCapSignature is the literal substring written into a `.err` file
	// that classifies the failure as a hardware-capability limit.
	HWCapSignature = "Hardware is lacking required capabilities"
)

// Classification is the result of inspecting an output path's markers.
type Classification int

const (
	// ClassifyNone means no marker and no final file exists.
	ClassifyNone Classification = iota
	// ClassifyDone means the final output exists and is newer than its source.
	ClassifyDone
	// ClassifyErrGeneral means a `.err` exists without the capability signature.
	ClassifyErrGeneral
	// ClassifyErrHW means a `.err` exists containing the capability signature.
	ClassifyErrHW
)

// Store is the Marker Store. It is stateless; all state lives on disk
// adjacent to each output.
type Store struct{}

// New creates a Marker Store.
func New() *Store { return &Store{} }

// Handle owns a claimed `.tmp` path and guarantees its release on every
// exit path: Commit renames it to the final output, Abort deletes it, and
// Close (deferred by the caller) deletes it if neither was called.
type Handle struct {
	outputPath string
	tmpPath    string
	resolved   bool
}

// TmpPath returns the path the caller (the encoder supervisor) must direct
// its child process to write into.
func (h *Handle) TmpPath() string { return h.tmpPath }

// Commit atomically renames the claimed tmp file onto the final output path.
func (h *Handle) Commit() error {
	if h.resolved {
		return nil
	}
	h.resolved = true
	return os.Rename(h.tmpPath, h.outputPath)
}

// Abort deletes the claimed tmp file without producing a final output.
func (h *Handle) Abort() error {
	if h.resolved {
		return nil
	}
	h.resolved = true
	err := os.Remove(h.tmpPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Close is a safety net: if neither Commit nor Abort was called (e.g. a
// panic unwound the stack), it deletes the dangling tmp file.
func (h *Handle) Close() error {
	if h.resolved {
		return nil
	}
	return h.Abort()
}

// Claim atomically reserves the `.tmp` file adjacent to outputPath, failing
// if one already exists (another claimant, or a crash-left marker that
// housekeeping hasn't swept yet).
func (s *Store) Claim(outputPath string) (*Handle, error) {
	tmpPath := outputPath + TmpSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, vberrors.NewSetupError("output already claimed: "+tmpPath, err)
		}
		return nil, vberrors.NewIOError("failed to claim "+tmpPath, err)
	}
	_ = f.Close()
	return &Handle{outputPath: outputPath, tmpPath: tmpPath}, nil
}

// RecordFailure writes the adjacent `.err` file with the supplied message,
// overwriting any existing content. Writes go through a pending-file so a
// crash mid-write never leaves a torn sentinel.
func (s *Store) RecordFailure(outputPath, message string) error {
	errPath := outputPath + ErrSuffix
	return renameio.WriteFile(errPath, []byte(message), 0o644)
}

// ClassifyExisting inspects the output tree for outputPath, given the
// mtime of its source, and returns one of the four classifications.
func (s *Store) ClassifyExisting(outputPath, sourcePath string) (Classification, error) {
	if info, err := os.Stat(outputPath); err == nil {
		srcInfo, srcErr := os.Stat(sourcePath)
		if srcErr == nil && info.ModTime().After(srcInfo.ModTime()) {
			return ClassifyDone, nil
		}
	}

	errPath := outputPath + ErrSuffix
	content, err := os.ReadFile(errPath)
	if err != nil {
		if os.IsNotExist(err) {
			return ClassifyNone, nil
		}
		return ClassifyNone, vberrors.NewIOError("failed to read "+errPath, err)
	}

	if strings.Contains(string(content), HWCapSignature) {
		return ClassifyErrHW, nil
	}
	return ClassifyErrGeneral, nil
}

// DeleteErrMarker removes the `.err` file for outputPath, if present. Used
// by discovery in "clean errors" mode.
func (s *Store) DeleteErrMarker(outputPath string) error {
	err := os.Remove(outputPath + ErrSuffix)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// StaleTmpAge is the age beyond which a dangling `.tmp` found at startup is
// counted as stale in the housekeeping result: it was very likely left by a
// killed process rather than one that exited in the last few moments of a
// prior run racing this one.
const StaleTmpAge = 1 * time.Hour

// HousekeepingResult summarizes a startup sweep.
type HousekeepingResult struct {
	TmpRemoved      int
	StaleTmpRemoved int
	ColorFixRemoved int
	ErrRemoved      int
}

// Housekeeping performs the startup sweep of outputRoot required before
// discovery runs: dangling `.tmp` files are always removed (no supervisor
// can own them at process start), color-repair intermediates are always
// removed, and `.err` files are removed only when cleanErrors is set.
func (s *Store) Housekeeping(outputRoot string, cleanErrors bool) (HousekeepingResult, error) {
	var result HousekeepingResult

	err := filepath.WalkDir(outputRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		switch {
		case strings.HasSuffix(path, TmpSuffix):
			stale := IsStale(path, StaleTmpAge)
			if rmErr := os.Remove(path); rmErr == nil {
				result.TmpRemoved++
				if stale {
					result.StaleTmpRemoved++
				}
			}
		case strings.HasSuffix(path, ColorFixSuffix):
			if rmErr := os.Remove(path); rmErr == nil {
				result.ColorFixRemoved++
			}
		case cleanErrors && strings.HasSuffix(path, ErrSuffix):
			if rmErr := os.Remove(path); rmErr == nil {
				result.ErrRemoved++
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return result, vberrors.NewSetupError("housekeeping sweep of "+outputRoot+" failed", err)
	}
	return result, nil
}

// ColorFixPath derives the color-repair intermediate path for a given final
// output path.
func ColorFixPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	stem := strings.TrimSuffix(outputPath, ext)
	return stem + ColorFixSuffix
}

// IsStale reports whether a `.tmp` file's age exceeds the given duration.
// Housekeeping always removes every `.tmp` it finds regardless of age, but
// uses this to flag the stale ones in its result for a diagnostic warning.
func IsStale(tmpPath string, maxAge time.Duration) bool {
	info, err := os.Stat(tmpPath)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > maxAge
}
