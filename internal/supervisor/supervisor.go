// Package supervisor implements the Encoder Supervisor (§4.4): it builds
// the ffmpeg invocation, launches it as a child process, streams its
// diagnostic output looking for the capability-failure and
// color-metadata-invalidity signatures, runs the color-repair sub-pipeline
// at most once per job, and enforces cooperative cancellation with a
// bounded polite-terminate-then-hard-kill sequence.
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/five82/vbcompress/internal/deepmeta"
	vberrors "github.com/five82/vbcompress/internal/errors"
	"github.com/five82/vbcompress/internal/eventbus"
	"github.com/five82/vbcompress/internal/ffmpegcmd"
	"github.com/five82/vbcompress/internal/job"
	"github.com/five82/vbcompress/internal/logging"
	"github.com/five82/vbcompress/internal/markerstore"
	"github.com/five82/vbcompress/internal/util"
)

// Bounded waits for cooperative cancellation's polite-terminate-then-kill
// sequence (§5: ≈3s each). Variables, not constants, so tests can shrink
// them for speed.
var (
	terminateTimeout = 3 * time.Second
	killTimeout      = 3 * time.Second
)

// diagnosticTailBytes bounds how much of the child's diagnostic stream is
// retained for the `.err` marker content ("the last chunk").
const diagnosticTailBytes = 8192

// Options carries the run-level settings the Supervisor needs that are
// not already recorded on the Job itself (§6 configuration surface).
type Options struct {
	GPU                 bool
	CopyMetadata        bool
	MinCompressionRatio float64
	SourceDurationSecs  float64 // for progress-percent calculation only
}

// Supervisor runs encoder subprocesses on behalf of the scheduler. It is
// stateless; every field is a shared collaborator, safe for concurrent use
// by multiple goroutines each supervising a different Job.
type Supervisor struct {
	Store  *markerstore.Store
	Bus    *eventbus.Bus
	Logger *logging.Logger

	// FFmpegBin overrides the invoked binary name/path; defaults to
	// "ffmpeg" when empty. Exposed for tests to substitute a fake encoder.
	FFmpegBin string
}

// New creates a Supervisor.
func New(store *markerstore.Store, bus *eventbus.Bus, logger *logging.Logger) *Supervisor {
	return &Supervisor{Store: store, Bus: bus, Logger: logger}
}

func (s *Supervisor) ffmpegBin() string {
	if s.FFmpegBin != "" {
		return s.FFmpegBin
	}
	return "ffmpeg"
}

// Run blocks until j reaches a terminal status, mutating j.Status and (on
// failure) j.ErrorMessage. cancel is the scheduler's shared cooperative
// cancellation signal, closed once on hard interrupt.
func (s *Supervisor) Run(j *job.Job, opts Options, cancel <-chan struct{}) {
	start := time.Now()
	j.Status = job.StatusProcessing
	s.publish(eventbus.JobStarted{Job: j})

	handle, err := s.Store.Claim(j.OutputPath)
	if err != nil {
		j.Status = job.StatusFailed
		j.ErrorMessage = err.Error()
		s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
		return
	}
	defer func() { _ = handle.Close() }()

	s.runEncode(j, j.Source.Path, handle, opts, cancel, false)
	j.Duration = time.Since(start).Seconds()
}

// runEncode drives one encode attempt against sourcePath (the original
// source on the first call, the color-repair intermediate on the single
// permitted recursive retry). isRepair is true only on that retry, so the
// color-repair branch never fires twice.
func (s *Supervisor) runEncode(j *job.Job, sourcePath string, handle *markerstore.Handle, opts Options, cancel <-chan struct{}, isRepair bool) {
	spec := ffmpegcmd.EncodeSpec{
		SourcePath:   sourcePath,
		OutputPath:   handle.TmpPath(),
		CQ:           j.EffectiveCQ,
		GPU:          opts.GPU,
		Rotation:     j.Rotation,
		CopyMetadata: opts.CopyMetadata,
	}
	args := ffmpegcmd.BuildEncodeCommand(spec)

	outcome := s.runChild(s.ffmpegBin(), args, cancel, func(percent float32) {
		s.publish(eventbus.JobProgressUpdated{Job: j, Percent: percent})
	}, opts.SourceDurationSecs)

	if outcome.interrupted {
		_ = handle.Abort()
		j.Status = job.StatusInterrupted
		s.publish(eventbus.JobInterrupted{Job: j})
		return
	}

	if outcome.hwCap {
		_ = handle.Abort()
		j.Status = job.StatusHWCap
		j.ErrorMessage = outcome.tail
		_ = s.Store.RecordFailure(j.OutputPath, outcome.tail)
		hwErr := vberrors.NewHardwareCapabilityError(j.Source.Path)
		if s.Logger != nil {
			s.Logger.Warn().Str("source", j.Source.Path).Err(hwErr).Msg("encoder lacks required hardware capability")
		}
		s.publish(eventbus.HardwareCapabilityExceeded{Job: j})
		s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
		return
	}

	if outcome.colorRepair && !isRepair {
		if err := s.runColorRepair(j, sourcePath, handle, opts, cancel); err != nil {
			j.Status = job.StatusFailed
			j.ErrorMessage = err.Error()
			_ = s.Store.RecordFailure(j.OutputPath, j.ErrorMessage)
			_ = handle.Abort()
			s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
		}
		// On success the recursive runEncode call already resolved the
		// Job's terminal status and published its event.
		return
	}

	if outcome.err == nil {
		if _, statErr := os.Stat(handle.TmpPath()); statErr != nil {
			j.Status = job.StatusFailed
			j.ErrorMessage = "output file not found"
			_ = s.Store.RecordFailure(j.OutputPath, outcome.tail)
			_ = handle.Abort()
			s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
			return
		}
		s.finishSuccess(j, handle, opts)
		return
	}

	j.Status = job.StatusFailed
	j.ErrorMessage = outcome.exitMessage()
	_ = s.Store.RecordFailure(j.OutputPath, outcome.tail)
	_ = handle.Abort()
	s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
}

// finishSuccess applies the post-encode compression-ratio gate, commits
// the claimed tmp file onto the final output, runs the optional
// deep-metadata copy pass, and marks the Job completed.
func (s *Supervisor) finishSuccess(j *job.Job, handle *markerstore.Handle, opts Options) {
	inputSize := j.Source.Size
	outInfo, err := os.Stat(handle.TmpPath())
	var outputSize int64
	if err == nil {
		outputSize = outInfo.Size()
	}

	ratio := 0.0
	if inputSize > 0 {
		ratio = 1 - float64(outputSize)/float64(inputSize)
	}

	// §9: min_compression_ratio applies uniformly to every successful
	// encode, including repaired-input encodes.
	if ratio < opts.MinCompressionRatio {
		if cerr := copyFile(j.Source.Path, handle.TmpPath()); cerr == nil {
			j.ErrorMessage = "ratio above threshold, kept original"
			outputSize = inputSize
		}
	}

	if err := handle.Commit(); err != nil {
		j.Status = job.StatusFailed
		j.ErrorMessage = err.Error()
		_ = s.Store.RecordFailure(j.OutputPath, err.Error())
		s.publish(eventbus.JobFailed{Job: j, Message: j.ErrorMessage})
		return
	}

	if opts.CopyMetadata {
		if err := deepmeta.CopyMetadata(j.Source.Path, j.OutputPath); err != nil && s.Logger != nil {
			s.Logger.Warn().Str("output", j.OutputPath).Err(err).Msg("metadata copy pass failed")
		}
	}

	j.Status = job.StatusCompleted
	s.publish(eventbus.JobCompleted{Job: j})
}

// runColorRepair executes the color-repair sub-pipeline exactly once:
// remux sourcePath into a sibling `_colorfix.mp4` with forced
// color-primaries/transfer/matrix metadata, trying the HEVC bitstream
// filter first and falling back to H.264, then re-invokes the main encode
// path once against the repair file. The repair file is always removed on
// exit, success or failure.
func (s *Supervisor) runColorRepair(j *job.Job, sourcePath string, handle *markerstore.Handle, opts Options, cancel <-chan struct{}) error {
	colorFixPath := markerstore.ColorFixPath(j.OutputPath)
	defer func() { _ = os.Remove(colorFixPath) }()

	remuxErr := s.remux(sourcePath, colorFixPath, ffmpegcmd.HEVCMetadataFilter)
	if remuxErr != nil {
		remuxErr = s.remux(sourcePath, colorFixPath, ffmpegcmd.H264MetadataFilter)
	}
	if remuxErr != nil {
		return vberrors.NewColorRepairError("color-repair remux failed for "+sourcePath, remuxErr)
	}

	s.runEncode(j, colorFixPath, handle, opts, cancel, true)
	return nil
}

func (s *Supervisor) remux(sourcePath, colorFixPath, bitstreamFilter string) error {
	args := ffmpegcmd.BuildColorFixCommand(sourcePath, colorFixPath, bitstreamFilter)
	cmd := exec.Command(s.ffmpegBin(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return vberrors.WrapExecError("ffmpeg", err, string(out))
	}
	return nil
}

// childOutcome summarizes one supervised child-process run.
type childOutcome struct {
	err         error // non-nil if the process exited non-zero or failed to run
	exitCode    int
	hwCap       bool
	colorRepair bool
	interrupted bool
	tail        string // last chunk of the diagnostic stream
}

func (o childOutcome) exitMessage() string {
	return fmt.Sprintf("encoder exited with code %d", o.exitCode)
}

// runChild launches name with args, streams its combined diagnostic
// output, and classifies the run. Cancellation is observed in the
// output-reading loop: on signal it sends SIGTERM to the child's process
// group, waits up to terminateTimeout, then SIGKILL and waits up to
// killTimeout.
func (s *Supervisor) runChild(name string, args []string, cancel <-chan struct{}, onProgress func(float32), durationSecs float64) childOutcome {
	cmd := exec.Command(name, args...)
	setProcessGroup(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return childOutcome{err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = pr.Close()
		return childOutcome{err: err}
	}
	_ = pw.Close() // the child holds its own copy of the write end

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		scanner.Split(scanLineOrCR)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var tail strings.Builder
	var hwCap, colorRepair bool

readLoop:
	for {
		select {
		case <-cancel:
			s.terminate(cmd)
			<-waitErr
			_ = pr.Close()
			return childOutcome{interrupted: true, tail: tailString(&tail)}
		case line, ok := <-lines:
			if !ok {
				break readLoop
			}
			appendTail(&tail, line)
			if strings.Contains(line, ffmpegcmd.HWCapSignature) {
				hwCap = true
			}
			if strings.Contains(line, ffmpegcmd.ColorPrimariesWarning) || strings.Contains(line, ffmpegcmd.ColorTransferWarning) {
				colorRepair = true
			}
			if onProgress != nil {
				if pct, ok := parsePercent(line, durationSecs); ok {
					onProgress(pct)
				}
			}
		}
	}
	_ = pr.Close()

	runErr := <-waitErr
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return childOutcome{
		err:         runErr,
		exitCode:    exitCode,
		hwCap:       hwCap,
		colorRepair: colorRepair,
		tail:        tailString(&tail),
	}
}

// terminate sends the polite-terminate-then-hard-kill sequence to cmd's
// process group, bounded by terminateTimeout and killTimeout (§4.4, §5).
func (s *Supervisor) terminate(cmd *exec.Cmd) {
	_ = signalProcessGroup(cmd, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(terminateTimeout):
	}

	_ = signalProcessGroup(cmd, unix.SIGKILL)

	select {
	case <-done:
	case <-time.After(killTimeout):
	}
}

// scanLineOrCR splits on '\n' or '\r', since ffmpeg's progress lines are
// terminated with carriage returns rather than newlines.
func scanLineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendTail(tail *strings.Builder, line string) {
	tail.WriteString(line)
	tail.WriteByte('\n')
	if tail.Len() > diagnosticTailBytes*2 {
		// Cheap bound: reset and keep writing rather than repeatedly
		// reslicing a growing builder.
		kept := tail.String()
		if len(kept) > diagnosticTailBytes {
			kept = kept[len(kept)-diagnosticTailBytes:]
		}
		tail.Reset()
		tail.WriteString(kept)
	}
}

func tailString(tail *strings.Builder) string {
	s := tail.String()
	if len(s) <= diagnosticTailBytes {
		return s
	}
	return s[len(s)-diagnosticTailBytes:]
}

var timePattern = "time="

// parsePercent extracts an ffmpeg progress line's elapsed time and
// converts it to a percentage of durationSecs.
func parsePercent(line string, durationSecs float64) (float32, bool) {
	if durationSecs <= 0 || !strings.Contains(line, "frame=") {
		return 0, false
	}
	idx := strings.Index(line, timePattern)
	if idx < 0 {
		return 0, false
	}
	rest := line[idx+len(timePattern):]
	end := strings.IndexAny(rest, " \t")
	if end > 0 {
		rest = rest[:end]
	}
	elapsed, ok := util.ParseFFmpegTime(rest)
	if !ok {
		return 0, false
	}
	pct := float32(elapsed / durationSecs * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, true
}

// copyFile replaces destPath with a byte-for-byte copy of srcPath, used
// when the min-compression-ratio gate rejects an encode (§4.4).
func copyFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = dest.Close() }()

	_, err = io.Copy(dest, src)
	return err
}

func (s *Supervisor) publish(event eventbus.Event) {
	if s.Bus != nil {
		s.Bus.Publish(event)
	}
}
