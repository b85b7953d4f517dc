package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/five82/vbcompress/internal/util"
)

// JSONReporter outputs NDJSON events, one per line, suitable for piping
// into a log aggregator or a downstream automation consumer.
type JSONReporter struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONReporter creates a new JSON reporter that writes to stdout.
func NewJSONReporter() *JSONReporter {
	return &JSONReporter{writer: os.Stdout}
}

// NewJSONReporterWithWriter creates a JSON reporter with a custom writer.
func NewJSONReporterWithWriter(w io.Writer) *JSONReporter {
	return &JSONReporter{writer: w}
}

func (r *JSONReporter) timestamp() int64 {
	return time.Now().Unix()
}

func (r *JSONReporter) write(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintln(r.writer, string(data))
}

func (r *JSONReporter) DiscoveryStarted(directory string) {
	r.write(map[string]any{
		"type":      "discovery_started",
		"directory": directory,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) DiscoveryFinished(stats DiscoveryStats) {
	r.write(map[string]any{
		"type":         "discovery_finished",
		"ready":        stats.Ready,
		"already_done": stats.AlreadyDone,
		"err_general":  stats.ErrGeneral,
		"err_hw":       stats.ErrHW,
		"too_small":    stats.TooSmall,
		"timestamp":    r.timestamp(),
	})
}

func (r *JSONReporter) JobStarted(sourcePath, outputPath string) {
	r.write(map[string]any{
		"type":        "job_started",
		"source_path": sourcePath,
		"output_path": outputPath,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) JobProgress(sourcePath string, percent float32) {
	r.write(map[string]any{
		"type":        "job_progress",
		"source_path": sourcePath,
		"percent":     percent,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) JobCompleted(sourcePath, outputPath string, bytesIn, bytesOut int64) {
	r.write(map[string]any{
		"type":                   "job_completed",
		"source_path":            sourcePath,
		"output_path":            outputPath,
		"bytes_in":               bytesIn,
		"bytes_out":              bytesOut,
		"size_reduction_percent": util.CalculateSizeReduction(uint64(bytesIn), uint64(bytesOut)),
		"timestamp":              r.timestamp(),
	})
}

func (r *JSONReporter) JobFailed(sourcePath, message string) {
	r.write(map[string]any{
		"type":        "job_failed",
		"source_path": sourcePath,
		"message":     message,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) JobHWCap(sourcePath, message string) {
	r.write(map[string]any{
		"type":        "job_hw_cap",
		"source_path": sourcePath,
		"message":     message,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) JobInterrupted(sourcePath string) {
	r.write(map[string]any{
		"type":        "job_interrupted",
		"source_path": sourcePath,
		"timestamp":   r.timestamp(),
	})
}

func (r *JSONReporter) QueueUpdated(preview []string, total int) {
	r.write(map[string]any{
		"type":            "queue_updated",
		"pending_preview": preview,
		"pending_total":   total,
		"timestamp":       r.timestamp(),
	})
}

func (r *JSONReporter) ActionMessage(text string) {
	r.write(map[string]any{
		"type":      "action_message",
		"message":   text,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) Warning(message string) {
	r.write(map[string]any{
		"type":      "warning",
		"message":   message,
		"timestamp": r.timestamp(),
	})
}

func (r *JSONReporter) RunComplete(summary RunSummary) {
	r.write(map[string]any{
		"type":            "run_complete",
		"completed":       summary.Completed,
		"failed":          summary.Failed,
		"skipped":         summary.Skipped,
		"hw_cap":          summary.HWCap,
		"interrupted":     summary.Interrupted,
		"camera_skipped":  summary.CameraSkipped,
		"av1_skipped":     summary.AV1Skipped,
		"min_ratio_kept":  summary.MinRatioKept,
		"bytes_in":        summary.BytesIn,
		"bytes_out":       summary.BytesOut,
		"forced_return":   summary.ForcedReturn,
		"was_interrupted": summary.WasInterrupted,
		"timestamp":       r.timestamp(),
	})
}
