// Package reporter renders the Control Event Bus's event stream as
// human-readable terminal output or machine-readable NDJSON, standing in
// for the full interactive dashboard (§SPEC_FULL Non-goals).
package reporter

// DiscoveryStats mirrors a discovery scan's per-bucket counts (§4.2).
type DiscoveryStats struct {
	Ready       int
	AlreadyDone int
	ErrGeneral  int
	ErrHW       int
	TooSmall    int
}

// RunSummary is the final per-terminal-category tally of a batch run,
// mirroring internal/scheduler.Summary without importing it (the reporter
// stays a leaf dependency, the way the teacher kept its own BatchSummary
// distinct from the processing package's result types).
type RunSummary struct {
	Completed      int
	Failed         int
	Skipped        int
	HWCap          int
	Interrupted    int
	CameraSkipped  int
	AV1Skipped     int
	MinRatioKept   int
	BytesIn        int64
	BytesOut       int64
	ForcedReturn   bool
	WasInterrupted bool
}

// Reporter defines the interface for progress reporting over the Control
// Event Bus's stream (§4.6).
type Reporter interface {
	DiscoveryStarted(directory string)
	DiscoveryFinished(stats DiscoveryStats)
	JobStarted(sourcePath, outputPath string)
	JobProgress(sourcePath string, percent float32)
	JobCompleted(sourcePath, outputPath string, bytesIn, bytesOut int64)
	JobFailed(sourcePath, message string)
	JobHWCap(sourcePath, message string)
	JobInterrupted(sourcePath string)
	QueueUpdated(preview []string, total int)
	ActionMessage(text string)
	Warning(message string)
	RunComplete(summary RunSummary)
}

// NullReporter is a no-op Reporter that discards all updates.
type NullReporter struct{}

func (NullReporter) DiscoveryStarted(string)                     {}
func (NullReporter) DiscoveryFinished(DiscoveryStats)             {}
func (NullReporter) JobStarted(string, string)                    {}
func (NullReporter) JobProgress(string, float32)                  {}
func (NullReporter) JobCompleted(string, string, int64, int64)    {}
func (NullReporter) JobFailed(string, string)                     {}
func (NullReporter) JobHWCap(string, string)                      {}
func (NullReporter) JobInterrupted(string)                        {}
func (NullReporter) QueueUpdated([]string, int)                   {}
func (NullReporter) ActionMessage(string)                         {}
func (NullReporter) Warning(string)                               {}
func (NullReporter) RunComplete(RunSummary)                       {}
