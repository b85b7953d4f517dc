// Package scheduler implements the Scheduler (Orchestrator), the heart of
// the system (§4.5): submit-on-demand admission against a dynamic
// concurrency cap, the refresh protocol that merges newly discovered work
// without duplicating submissions, graceful-shutdown and hard-interrupt
// semantics, and result routing into the Marker Store, Metadata Probe
// Cache, State Projection, and Control Event Bus.
package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/five82/vbcompress/internal/config"
	"github.com/five82/vbcompress/internal/discovery"
	vberrors "github.com/five82/vbcompress/internal/errors"
	"github.com/five82/vbcompress/internal/eventbus"
	"github.com/five82/vbcompress/internal/job"
	"github.com/five82/vbcompress/internal/logging"
	"github.com/five82/vbcompress/internal/markerstore"
	"github.com/five82/vbcompress/internal/metadata"
	"github.com/five82/vbcompress/internal/projection"
	"github.com/five82/vbcompress/internal/supervisor"
	"github.com/five82/vbcompress/internal/util"
	"github.com/five82/vbcompress/internal/worker"
)

// hardInterruptDeadline bounds how long Run waits for in-flight supervisors
// to finalize cooperatively after InterruptRequested before returning
// control regardless (§5). A var, not a const, so tests can shrink it.
var hardInterruptDeadline = 10 * time.Second

// completionPollBound is the scheduler's polling bound on the completion
// wait, letting it react to cap adjustments without a finalization (§5).
var completionPollBound = 1 * time.Second

// Scheduler owns the PendingQueue and InFlightSet behind one lock, and the
// dynamic concurrency cap via internal/worker.Cap.
type Scheduler struct {
	cfg        *config.Config
	store      *markerstore.Store
	bus        *eventbus.Bus
	proj       *projection.Projection
	metaCache  *metadata.Cache
	supervisor *supervisor.Supervisor
	logger     *logging.Logger

	outputRoot string

	cap  *worker.Cap
	pool *worker.Semaphore

	refreshLimiter *rate.Limiter

	mu        sync.Mutex
	pending   []*job.SourceFile
	inFlight  map[string]*job.Job
	completed map[string]bool // every source path this run has routed to a terminal state

	shutdownRequested bool
	interrupted       bool
	interruptedAt     time.Time

	cancel        chan struct{}
	cancelOnce    sync.Once
	interruptOnce sync.Once

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler for inputDir, wiring it to the given Marker
// Store, Control Event Bus, State Projection, Metadata Probe Cache, and
// Encoder Supervisor. It subscribes its own handlers on the bus for the
// control events it must react to.
func New(cfg *config.Config, store *markerstore.Store, bus *eventbus.Bus, proj *projection.Projection, metaCache *metadata.Cache, sv *supervisor.Supervisor, logger *logging.Logger) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		store:      store,
		bus:        bus,
		proj:       proj,
		metaCache:  metaCache,
		supervisor: sv,
		logger:     logger,
		outputRoot: util.OutputRootFor(cfg.InputDir, config.OutputDirSuffix),
		cap:        worker.NewCap(cfg.Threads, config.MinCap, config.MaxCap),
		pool:       worker.NewSemaphore(config.MaxWorkerPool),
		// Refreshes faster than one per second are debounced, per §5.
		refreshLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		inFlight:       make(map[string]*job.Job),
		completed:      make(map[string]bool),
		cancel:         make(chan struct{}),
		wake:           make(chan struct{}, 1),
	}

	bus.Subscribe(eventbus.NameThreadControlEvent, s.handleThreadControl)
	bus.Subscribe(eventbus.NameRefreshRequested, s.handleRefreshRequested)
	bus.Subscribe(eventbus.NameRequestShutdown, s.handleRequestShutdown)
	bus.Subscribe(eventbus.NameInterruptRequested, s.handleInterruptRequested)

	proj.SetCap(s.cap.Value())
	return s
}

// Summary reports the final per-terminal-category counts of a run.
type Summary struct {
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

	// ForcedReturn is true if the hard-interrupt deadline elapsed before
	// every in-flight supervisor finalized; those supervisors continue
	// running in the background (their cancellation was already signaled).
	ForcedReturn   bool
	WasInterrupted bool
}

// Run performs the housekeeping sweep, the initial discovery, then drives
// submit-on-demand until the pending queue and in-flight set are both
// empty (or shutdown/hard-interrupt semantics end the run early). It
// blocks until the run concludes.
func (s *Scheduler) Run() (Summary, error) {
	housekeeping, err := s.store.Housekeeping(s.outputRoot, s.cfg.CleanErrors)
	if err != nil {
		return Summary{}, vberrors.NewSetupError("startup housekeeping sweep failed", err)
	}
	if s.logger != nil {
		s.logger.Info().
			Int("tmp_removed", housekeeping.TmpRemoved).
			Int("colorfix_removed", housekeeping.ColorFixRemoved).
			Int("err_removed", housekeeping.ErrRemoved).
			Msg("housekeeping complete")
		if housekeeping.StaleTmpRemoved > 0 {
			s.logger.Warn().
				Int("stale_tmp_removed", housekeeping.StaleTmpRemoved).
				Dur("stale_age_threshold", markerstore.StaleTmpAge).
				Msg("removed .tmp markers left by a prior run that did not exit cleanly")
		}
	}

	if err := s.initialDiscovery(); err != nil {
		return Summary{}, err
	}

	for {
		s.refill()

		s.mu.Lock()
		pendingEmpty := len(s.pending) == 0
		inFlightEmpty := len(s.inFlight) == 0
		shutdownRequested := s.shutdownRequested
		forced := s.interrupted && !s.interruptedAt.IsZero() && time.Since(s.interruptedAt) > hardInterruptDeadline
		s.mu.Unlock()

		if inFlightEmpty && (pendingEmpty || shutdownRequested) {
			break
		}
		if forced {
			summary := s.summary()
			summary.ForcedReturn = true
			summary.WasInterrupted = true
			return summary, nil
		}

		select {
		case <-s.wake:
		case <-time.After(completionPollBound):
		}
	}

	s.wg.Wait()
	summary := s.summary()
	s.mu.Lock()
	summary.WasInterrupted = s.interrupted
	s.mu.Unlock()
	return summary, nil
}

func (s *Scheduler) initialDiscovery() error {
	s.bus.Publish(eventbus.DiscoveryStarted{Directory: s.cfg.InputDir})

	result, err := discovery.Scan(s.discoveryOptions(), s.store, discoveryLogAdapter{s.logger})
	if err != nil {
		return vberrors.NewSetupError("discovery scan failed", err)
	}

	s.mu.Lock()
	s.pending = append(s.pending, result.Ready...)
	s.mu.Unlock()

	s.proj.SetDiscoveryStats(projection.DiscoveryStats{
		Ready: len(result.Ready), AlreadyDone: result.AlreadyDone,
		ErrGeneral: result.ErrGeneral, ErrHW: result.ErrHW, TooSmall: result.TooSmall,
	})
	s.bus.Publish(eventbus.DiscoveryFinished{
		Ready: len(result.Ready), AlreadyDone: result.AlreadyDone,
		ErrGeneral: result.ErrGeneral, ErrHW: result.ErrHW, TooSmall: result.TooSmall,
	})
	return nil
}

func (s *Scheduler) discoveryOptions() discovery.Options {
	return discovery.Options{
		InputRoot:    s.cfg.InputDir,
		OutputRoot:   s.outputRoot,
		Extensions:   s.cfg.Extensions,
		MinSizeBytes: s.cfg.MinSizeBytes,
		CanonicalExt: config.CanonicalContainerExt,
		CleanErrors:  s.cfg.CleanErrors,
		MaxDepth:     config.MaxDiscoveryDepth,
	}
}

// refill drains PendingQueue while |InFlightSet| < prefetch_factor x cap,
// applying the pre-execution filters to each candidate before admitting it
// (§4.5). It returns as soon as no further submission is currently
// possible; Run re-invokes it after every wake.
func (s *Scheduler) refill() {
	for {
		s.mu.Lock()
		if s.shutdownRequested || len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		limit := s.cfg.PrefetchFactor * s.cap.Value()
		if len(s.inFlight) >= limit {
			s.mu.Unlock()
			return
		}
		src := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.processCandidate(src)
	}
}

// processCandidate resolves the output path, applies the pre-execution
// filters in order (vanished source, output collision, av1-skip,
// camera-skip), and either finalizes the candidate directly (no
// supervisor ever runs) or admits it into InFlightSet and launches its
// supervisor goroutine.
func (s *Scheduler) processCandidate(src *job.SourceFile) {
	outputPath, err := util.ResolveOutputPath(src.Path, s.cfg.InputDir, s.outputRoot, config.CanonicalContainerExt)
	if err != nil {
		j := job.NewJob(src, src.Path, 0, s.cfg.CQ)
		j.Status = job.StatusSkipped
		j.ErrorMessage = "failed to resolve output path: " + err.Error()
		s.finalize(j)
		return
	}
	j := job.NewJob(src, outputPath, 0, s.cfg.CQ)

	if _, statErr := os.Stat(src.Path); statErr != nil {
		j.Status = job.StatusSkipped
		j.ErrorMessage = "file was deleted or moved"
		s.finalize(j)
		return
	}

	if _, statErr := os.Stat(outputPath); statErr == nil {
		cls, clsErr := s.store.ClassifyExisting(outputPath, src.Path)
		if clsErr != nil || cls != markerstore.ClassifyDone {
			j.Status = job.StatusSkipped
			j.ErrorMessage = "output path collision: " + outputPath
			if s.logger != nil {
				s.logger.Warn().Str("source", src.Path).Str("output", outputPath).Msg("output path collision")
			}
			s.finalize(j)
			return
		}
	}

	meta, err := s.metaCache.Probe(src.Path)
	if err != nil {
		j.Status = job.StatusFailed
		j.ErrorMessage = "probe failed: " + err.Error()
		_ = s.store.RecordFailure(outputPath, j.ErrorMessage)
		s.finalize(j)
		return
	}
	src.Metadata = meta

	if s.cfg.SkipAV1 && strings.EqualFold(meta.Codec, "av1") {
		j.Status = job.StatusSkipped
		j.ErrorMessage = "av1-skip"
		s.finalize(j)
		return
	}
	if !s.cfg.CameraAllowed(meta.Camera) {
		j.Status = job.StatusSkipped
		j.ErrorMessage = "camera-skip"
		s.finalize(j)
		return
	}

	j.Rotation = s.cfg.RotationForName(filepath.Base(src.Path))
	j.EffectiveCQ = s.cfg.EffectiveCQ(meta.Camera)

	s.mu.Lock()
	s.inFlight[src.Path] = j
	s.mu.Unlock()

	s.proj.JobStarted(src.Path, j.OutputPath)
	s.publishQueueUpdated()

	s.wg.Add(1)
	go s.runJob(j)
}

// runJob waits for a worker-pool slot (the hardware-session ceiling) and
// runs the job's supervisor, or observes the shared cancel signal first
// and finalizes the job INTERRUPTED without ever starting a child process
// ("cancel every pending future", §4.5 hard-interrupt protocol).
func (s *Scheduler) runJob(j *job.Job) {
	defer s.wg.Done()

	select {
	case <-s.pool.Chan():
		defer s.pool.Release()
		s.supervisor.Run(j, s.supervisorOptions(j), s.cancel)
	case <-s.cancel:
		j.Status = job.StatusInterrupted
		s.bus.Publish(eventbus.JobInterrupted{Job: j})
	}

	s.finalize(j)
}

func (s *Scheduler) supervisorOptions(j *job.Job) supervisor.Options {
	duration := 0.0
	if j.Source.Metadata != nil {
		duration = j.Source.Metadata.Duration
	}
	return supervisor.Options{
		GPU:                 s.cfg.GPU,
		CopyMetadata:         s.cfg.CopyMetadata,
		MinCompressionRatio: s.cfg.MinCompressionRatio,
		SourceDurationSecs:  duration,
	}
}

// finalize routes one Job's terminal status to the counters, the
// completion log, the metadata cache, and the event bus (§4.5 result
// routing). It is the single place a source path transitions out of
// PendingQueue/InFlightSet into the completed set (Invariant 1).
func (s *Scheduler) finalize(j *job.Job) {
	s.mu.Lock()
	delete(s.inFlight, j.Source.Path)
	s.completed[j.Source.Path] = true
	s.mu.Unlock()

	s.metaCache.Drop(j.Source.Path)

	switch j.Status {
	case job.StatusCompleted:
		bytesOut := j.Source.Size
		if info, err := os.Stat(j.OutputPath); err == nil {
			bytesOut = info.Size()
		}
		s.proj.IncCompleted(j.Source.Size, bytesOut)
		if strings.Contains(j.ErrorMessage, "ratio above threshold") {
			s.proj.IncMinRatioKept()
		}
	case job.StatusFailed:
		s.proj.IncFailed()
	case job.StatusHWCap:
		s.proj.IncHWCap()
	case job.StatusInterrupted:
		s.proj.IncInterrupted()
	case job.StatusSkipped:
		switch j.ErrorMessage {
		case "av1-skip":
			s.proj.IncAV1Skipped()
		case "camera-skip":
			s.proj.IncCameraSkipped()
		default:
			s.proj.IncSkipped()
		}
	}

	s.proj.JobFinished(j.Source.Path, j.Status.String(), j.ErrorMessage)
	s.publishQueueUpdated()
	s.wakeUp()
}

// RequestShutdown is a convenience for callers that don't want to go
// through the event bus directly.
func (s *Scheduler) RequestShutdown() {
	s.bus.Publish(eventbus.RequestShutdown{})
}

// RequestInterrupt is a convenience for callers that don't want to go
// through the event bus directly.
func (s *Scheduler) RequestInterrupt() {
	s.bus.Publish(eventbus.InterruptRequested{})
}

func (s *Scheduler) handleThreadControl(e eventbus.Event) {
	evt, ok := e.(eventbus.ThreadControlEvent)
	if !ok {
		return
	}
	newVal := s.cap.Adjust(evt.Change)
	s.proj.SetCap(newVal)
	s.wakeUp()
}

func (s *Scheduler) handleRequestShutdown(eventbus.Event) {
	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.proj.SetShutdownRequested(true)
	s.wakeUp()
}

func (s *Scheduler) handleInterruptRequested(eventbus.Event) {
	s.interruptOnce.Do(func() {
		s.mu.Lock()
		s.interrupted = true
		s.shutdownRequested = true
		s.interruptedAt = time.Now()
		s.mu.Unlock()

		s.proj.SetInterruptRequested(true)
		s.proj.SetShutdownRequested(true)
		s.cancelOnce.Do(func() { close(s.cancel) })
		s.wakeUp()
	})
}

func (s *Scheduler) handleRefreshRequested(eventbus.Event) {
	if !s.refreshLimiter.Allow() {
		return
	}
	go s.doRefresh()
}

// doRefresh implements the refresh protocol of §4.5: re-run discovery,
// append newly discovered ready files not already known, and drop pending
// entries that no longer appear in the new ready set (deleted on disk, or
// newly error-marked — discovery's Ready list excludes both).
func (s *Scheduler) doRefresh() {
	s.bus.Publish(eventbus.DiscoveryStarted{Directory: s.cfg.InputDir})

	result, err := discovery.Scan(s.discoveryOptions(), s.store, discoveryLogAdapter{s.logger})
	if err != nil {
		if s.logger != nil {
			s.logger.Error().Err(err).Msg("refresh discovery failed")
		}
		return
	}

	newlyReady := make(map[string]bool, len(result.Ready))
	for _, sf := range result.Ready {
		newlyReady[sf.Path] = true
	}

	s.mu.Lock()
	known := make(map[string]bool, len(s.pending)+len(s.inFlight)+len(s.completed))
	for _, sf := range s.pending {
		known[sf.Path] = true
	}
	for p := range s.inFlight {
		known[p] = true
	}
	for p := range s.completed {
		known[p] = true
	}

	kept := make([]*job.SourceFile, 0, len(s.pending))
	removed := 0
	for _, sf := range s.pending {
		if newlyReady[sf.Path] {
			kept = append(kept, sf)
		} else {
			removed++
		}
	}

	added := 0
	for _, sf := range result.Ready {
		if !known[sf.Path] {
			kept = append(kept, sf)
			known[sf.Path] = true
			added++
		}
	}
	s.pending = kept
	preview := previewPaths(s.pending, 5)
	total := len(s.pending)
	s.mu.Unlock()

	s.proj.SetDiscoveryStats(projection.DiscoveryStats{
		Ready: len(result.Ready), AlreadyDone: result.AlreadyDone,
		ErrGeneral: result.ErrGeneral, ErrHW: result.ErrHW, TooSmall: result.TooSmall,
	})
	s.proj.SetPendingPreview(preview, total)
	s.bus.Publish(eventbus.DiscoveryFinished{
		Ready: len(result.Ready), AlreadyDone: result.AlreadyDone,
		ErrGeneral: result.ErrGeneral, ErrHW: result.ErrHW, TooSmall: result.TooSmall,
	})

	delta := fmt.Sprintf("+%d new, -%d deleted", added, removed)
	s.proj.SetLastAction(delta, 5*time.Second)
	s.bus.Publish(eventbus.ActionMessage{Text: delta})
	s.wakeUp()
}

func (s *Scheduler) publishQueueUpdated() {
	s.mu.Lock()
	preview := previewPaths(s.pending, 5)
	total := len(s.pending)
	s.mu.Unlock()
	s.bus.Publish(eventbus.QueueUpdated{PendingPreview: preview, PendingTotal: total})
}

func previewPaths(pending []*job.SourceFile, n int) []string {
	if len(pending) < n {
		n = len(pending)
	}
	preview := make([]string, n)
	for i := 0; i < n; i++ {
		preview[i] = pending[i].Path
	}
	return preview
}

func (s *Scheduler) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) summary() Summary {
	snap := s.proj.Snapshot()
	return Summary{
		Completed:     snap.Counters.Completed,
		Failed:        snap.Counters.Failed,
		Skipped:       snap.Counters.Skipped,
		HWCap:         snap.Counters.HWCap,
		Interrupted:   snap.Counters.Interrupted,
		CameraSkipped: snap.Counters.CameraSkipped,
		AV1Skipped:    snap.Counters.AV1Skipped,
		MinRatioKept:  snap.Counters.MinRatioKept,
		BytesIn:       snap.Counters.BytesIn,
		BytesOut:      snap.Counters.BytesOut,
	}
}

// discoveryLogAdapter bridges *logging.Logger to discovery.Logger's
// printf-style contract.
type discoveryLogAdapter struct {
	logger *logging.Logger
}

func (a discoveryLogAdapter) Debug(format string, args ...any) {
	if a.logger == nil {
		return
	}
	a.logger.Debug().Msgf(format, args...)
}
