// Package projection implements the State Projection (§4.7): a
// mutex-protected, read-only-to-observers snapshot of counters, active
// jobs, recent completions, and queue preview that external collaborators
// (the dashboard) consume. Observers copy Snapshot values out; they never
// hold a reference into the Projection's internal state.
package projection

import (
	"sync"
	"time"
)

// Counters holds the monotonically-increasing terminal-outcome tallies
// (Invariant 5). Every field only ever increases during a run.
type Counters struct {
	Completed     int
	Failed        int
	Skipped       int
	HWCap         int
	Interrupted   int
	CameraSkipped int
	AV1Skipped    int
	MinRatioKept  int
	BytesIn       int64
	BytesOut      int64
}

// ActiveJob describes one currently in-flight job for the active-job list.
type ActiveJob struct {
	SourcePath string
	OutputPath string
	StartedAt  time.Time
}

// CompletionEntry is one entry in the bounded completion ring.
type CompletionEntry struct {
	SourcePath string
	Status     string
	Message    string
	FinishedAt time.Time
}

// DiscoveryStats mirrors the last discovery scan's bucket counts.
type DiscoveryStats struct {
	Ready       int
	AlreadyDone int
	ErrGeneral  int
	ErrHW       int
	TooSmall    int
}

// completionLogCapacity bounds the ring buffer of recently finalized jobs
// (§3: CompletionLog, capacity ≈5).
const completionLogCapacity = 5

// Snapshot is a point-in-time, independently-owned copy of the
// Projection's state, safe to read without further synchronization.
type Snapshot struct {
	Counters            Counters
	ActiveJobs          []ActiveJob
	RecentCompletions   []CompletionEntry
	PendingPreview      []string
	PendingTotal        int
	Discovery           DiscoveryStats
	Cap                 int
	ShutdownRequested   bool
	InterruptRequested  bool
	LastAction          string
	StartedAt           time.Time
}

// Projection is the State Projection.
type Projection struct {
	mu sync.Mutex

	counters   Counters
	activeJobs map[string]ActiveJob // keyed by source path
	completion []CompletionEntry    // ring buffer, oldest first
	pending    []string
	pendingN   int
	discovery  DiscoveryStats
	cap        int
	shutdown   bool
	interrupt  bool
	lastAction string
	lastUntil  time.Time
	startedAt  time.Time
}

// New creates an empty Projection.
func New() *Projection {
	return &Projection{
		activeJobs: make(map[string]ActiveJob),
		startedAt:  time.Now(),
	}
}

// IncCompleted records a successful encode finalizing, with the input and
// output byte sizes it measured.
func (p *Projection) IncCompleted(bytesIn, bytesOut int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Completed++
	p.counters.BytesIn += bytesIn
	p.counters.BytesOut += bytesOut
}

// IncFailed records a terminal encoder failure.
func (p *Projection) IncFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Failed++
}

// IncHWCap records a hardware-capability terminal failure.
func (p *Projection) IncHWCap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.HWCap++
}

// IncInterrupted records a cooperative cancellation.
func (p *Projection) IncInterrupted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Interrupted++
}

// IncSkipped records a pre-execution-filter or collision skip.
func (p *Projection) IncSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.Skipped++
}

// IncCameraSkipped records a camera-filter skip.
func (p *Projection) IncCameraSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.CameraSkipped++
}

// IncAV1Skipped records an av1-skip-filter skip.
func (p *Projection) IncAV1Skipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.AV1Skipped++
}

// IncMinRatioKept records a successful encode where the original was kept
// because the compression ratio gate wasn't met.
func (p *Projection) IncMinRatioKept() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters.MinRatioKept++
}

// JobStarted adds sourcePath to the active-job list.
func (p *Projection) JobStarted(sourcePath, outputPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[sourcePath] = ActiveJob{SourcePath: sourcePath, OutputPath: outputPath, StartedAt: time.Now()}
}

// JobFinished removes sourcePath from the active-job list and appends a
// completion-log entry, evicting the oldest entry once the ring fills.
func (p *Projection) JobFinished(sourcePath, status, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, sourcePath)

	entry := CompletionEntry{SourcePath: sourcePath, Status: status, Message: message, FinishedAt: time.Now()}
	p.completion = append(p.completion, entry)
	if len(p.completion) > completionLogCapacity {
		p.completion = p.completion[len(p.completion)-completionLogCapacity:]
	}
}

// SetPendingPreview records the first few pending-queue entries (for
// display) and the total pending count.
func (p *Projection) SetPendingPreview(preview []string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append([]string(nil), preview...)
	p.pendingN = total
}

// SetDiscoveryStats records the last discovery scan's bucket counts.
func (p *Projection) SetDiscoveryStats(stats DiscoveryStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovery = stats
}

// SetCap records the current concurrency cap value.
func (p *Projection) SetCap(cap int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cap = cap
}

// SetShutdownRequested records the graceful-shutdown flag.
func (p *Projection) SetShutdownRequested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shutdown = v
}

// SetInterruptRequested records the hard-interrupt flag.
func (p *Projection) SetInterruptRequested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interrupt = v
}

// SetLastAction records a human-readable status line with a
// time-to-live; Snapshot clears it once ttl has elapsed.
func (p *Projection) SetLastAction(text string, ttl time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAction = text
	p.lastUntil = time.Now().Add(ttl)
}

// Snapshot copies out the current state. The returned value shares no
// mutable state with the Projection.
func (p *Projection) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := make([]ActiveJob, 0, len(p.activeJobs))
	for _, j := range p.activeJobs {
		active = append(active, j)
	}

	lastAction := p.lastAction
	if time.Now().After(p.lastUntil) {
		lastAction = ""
	}

	return Snapshot{
		Counters:           p.counters,
		ActiveJobs:         active,
		RecentCompletions:  append([]CompletionEntry(nil), p.completion...),
		PendingPreview:     append([]string(nil), p.pending...),
		PendingTotal:       p.pendingN,
		Discovery:          p.discovery,
		Cap:                p.cap,
		ShutdownRequested:  p.shutdown,
		InterruptRequested: p.interrupt,
		LastAction:         lastAction,
		StartedAt:          p.startedAt,
	}
}
