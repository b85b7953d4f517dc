package reporter

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/five82/vbcompress/internal/util"
)

// TerminalReporter outputs human-friendly text to the terminal, one line
// per event, plus an in-place progress bar for whichever job most recently
// reported progress.
type TerminalReporter struct {
	mu            sync.Mutex
	progress      *progressbar.ProgressBar
	progressOwner string

	cyan    *color.Color
	green   *color.Color
	yellow  *color.Color
	red     *color.Color
	magenta *color.Color
	bold    *color.Color
}

// NewTerminalReporter creates a new terminal reporter.
func NewTerminalReporter() *TerminalReporter {
	return &TerminalReporter{
		cyan:    color.New(color.FgCyan, color.Bold),
		green:   color.New(color.FgGreen),
		yellow:  color.New(color.FgYellow, color.Bold),
		red:     color.New(color.FgRed, color.Bold),
		magenta: color.New(color.FgMagenta),
		bold:    color.New(color.Bold),
	}
}

func (r *TerminalReporter) finishProgress() {
	if r.progress != nil {
		_ = r.progress.Finish()
		r.progress = nil
		r.progressOwner = ""
	}
}

func (r *TerminalReporter) DiscoveryStarted(directory string) {
	fmt.Println()
	_, _ = r.cyan.Printf("DISCOVERY %s\n", directory)
}

func (r *TerminalReporter) DiscoveryFinished(stats DiscoveryStats) {
	fmt.Printf("  %s ready, %s already done, %s too small, %s error, %s hw-cap\n",
		r.bold.Sprintf("%d", stats.Ready),
		r.green.Sprintf("%d", stats.AlreadyDone),
		r.yellow.Sprintf("%d", stats.TooSmall),
		r.red.Sprintf("%d", stats.ErrGeneral),
		r.red.Sprintf("%d", stats.ErrHW))
}

func (r *TerminalReporter) JobStarted(sourcePath, outputPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Printf("  %s %s\n", r.magenta.Sprint("›"), filepath.Base(sourcePath))
}

func (r *TerminalReporter) JobProgress(sourcePath string, percent float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.progress == nil || r.progressOwner != sourcePath {
		r.finishProgress()
		r.progress = progressbar.NewOptions64(100,
			progressbar.OptionSetDescription(filepath.Base(sourcePath)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowDescriptionAtLineEnd(),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "Encoding [",
				BarEnd:        "]",
			}),
		)
		r.progressOwner = sourcePath
	}

	clamped := percent
	if clamped > 100 {
		clamped = 100
	}
	if clamped < 0 {
		clamped = 0
	}
	_ = r.progress.Set64(int64(clamped))
}

func (r *TerminalReporter) JobCompleted(sourcePath, outputPath string, bytesIn, bytesOut int64) {
	r.mu.Lock()
	r.finishProgress()
	r.mu.Unlock()

	reduction := util.CalculateSizeReduction(uint64(bytesIn), uint64(bytesOut))
	fmt.Printf("  %s %s  %s -> %s (%.1f%% reduction)\n",
		r.green.Sprint("done"),
		filepath.Base(sourcePath),
		util.FormatBytes(uint64(bytesIn)),
		util.FormatBytes(uint64(bytesOut)),
		reduction)
}

func (r *TerminalReporter) JobFailed(sourcePath, message string) {
	r.mu.Lock()
	r.finishProgress()
	r.mu.Unlock()

	_, _ = fmt.Fprintf(os.Stderr, "  %s %s: %s\n", r.red.Sprint("failed"), filepath.Base(sourcePath), message)
}

func (r *TerminalReporter) JobHWCap(sourcePath, message string) {
	r.mu.Lock()
	r.finishProgress()
	r.mu.Unlock()

	_, _ = fmt.Fprintf(os.Stderr, "  %s %s: %s\n", r.yellow.Sprint("hw-cap"), filepath.Base(sourcePath), message)
}

func (r *TerminalReporter) JobInterrupted(sourcePath string) {
	r.mu.Lock()
	r.finishProgress()
	r.mu.Unlock()

	_, _ = fmt.Fprintf(os.Stderr, "  %s %s\n", r.yellow.Sprint("interrupted"), filepath.Base(sourcePath))
}

func (r *TerminalReporter) QueueUpdated(preview []string, total int) {
	// Deliberately quiet: the dashboard this stands in for renders the
	// queue preview continuously; a terminal log would just be noise.
}

func (r *TerminalReporter) ActionMessage(text string) {
	fmt.Println()
	_, _ = r.cyan.Println(text)
}

func (r *TerminalReporter) Warning(message string) {
	_, _ = r.yellow.Printf("WARN: %s\n", message)
}

func (r *TerminalReporter) RunComplete(summary RunSummary) {
	r.mu.Lock()
	r.finishProgress()
	r.mu.Unlock()

	reduction := util.CalculateSizeReduction(uint64(summary.BytesIn), uint64(summary.BytesOut))

	fmt.Println()
	_, _ = r.cyan.Println("SUMMARY")
	fmt.Printf("  %s\n", r.bold.Sprintf("%d completed", summary.Completed))
	fmt.Printf("  Failed: %d, HW-cap: %d, Interrupted: %d\n", summary.Failed, summary.HWCap, summary.Interrupted)
	fmt.Printf("  Skipped: %d (camera %d, av1 %d), kept-original: %d\n",
		summary.Skipped, summary.CameraSkipped, summary.AV1Skipped, summary.MinRatioKept)
	fmt.Printf("  Size: %s -> %s (%.1f%% reduction)\n",
		util.FormatBytesReadable(uint64(summary.BytesIn)),
		util.FormatBytesReadable(uint64(summary.BytesOut)),
		reduction)
	if summary.WasInterrupted {
		_, _ = r.yellow.Println("  run was interrupted")
	}
	if summary.ForcedReturn {
		_, _ = r.yellow.Println("  returned before every in-flight job finalized")
	}
}
