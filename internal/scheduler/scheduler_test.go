package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/five82/vbcompress/internal/config"
	"github.com/five82/vbcompress/internal/eventbus"
	"github.com/five82/vbcompress/internal/job"
	"github.com/five82/vbcompress/internal/markerstore"
	"github.com/five82/vbcompress/internal/metadata"
	"github.com/five82/vbcompress/internal/projection"
	"github.com/five82/vbcompress/internal/supervisor"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/bash\n"+body), 0o755); err != nil {
		t.Fatalf("writeScript: %v", err)
	}
	return path
}

func writeSourceFile(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("writeSourceFile: %v", err)
	}
}

// newTestHarness wires a Scheduler against a fake "ffmpeg" (a shell script)
// and a fake probe that never shells out to a real ffprobe/exiftool,
// grounded on the same fake-subprocess pattern used in the supervisor's
// own tests.
func newTestHarness(t *testing.T, inputDir string, threads int, scriptBody string) (*Scheduler, *projection.Projection, *eventbus.Bus) {
	t.Helper()

	cfg := config.NewConfig(inputDir)
	cfg.Threads = threads
	cfg.PrefetchFactor = 1
	cfg.MinSizeBytes = 0

	bus := eventbus.New()
	proj := projection.New()
	store := markerstore.New()

	metaCache := metadata.New(false, nil)
	metaCache.Prober = func(path string) (*job.Metadata, error) {
		return &job.Metadata{Width: 1920, Height: 1080, Codec: "h264", Duration: 10}, nil
	}

	script := writeScript(t, t.TempDir(), "ffmpeg", scriptBody)
	sv := &supervisor.Supervisor{Store: store, Bus: bus, FFmpegBin: script}

	s := New(cfg, store, bus, proj, metaCache, sv, nil)
	return s, proj, bus
}

func TestRunResumeScenarioSkipsAlreadyDoneFile(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSourceFile(t, filepath.Join(inputDir, "a.mov"), 10000)
	writeSourceFile(t, filepath.Join(inputDir, "b.mov"), 10000)
	writeSourceFile(t, filepath.Join(inputDir, "c.mov"), 10000)

	scriptBody := `
out="${@: -1}"
printf 'x%.0s' $(seq 1 100) > "$out"
exit 0
`
	s, proj, _ := newTestHarness(t, inputDir, 4, scriptBody)

	if err := os.MkdirAll(s.outputRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	aOutput := filepath.Join(s.outputRoot, "a.mp4")
	if err := os.WriteFile(aOutput, []byte("already done"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(aOutput, future, future); err != nil {
		t.Fatal(err)
	}

	summary, err := s.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snap := proj.Snapshot()
	if snap.Discovery.AlreadyDone != 1 || snap.Discovery.Ready != 2 {
		t.Fatalf("discovery = %+v, want 1 already_done, 2 ready", snap.Discovery)
	}
	if summary.Completed != 2 {
		t.Fatalf("Completed = %d, want 2", summary.Completed)
	}
}

func TestRunHWCapClassifiedOnNextDiscovery(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSourceFile(t, filepath.Join(inputDir, "a.mov"), 10000)

	scriptBody := `
echo "Hardware is lacking required capabilities" 1>&2
exit 1
`
	s1, _, _ := newTestHarness(t, inputDir, 1, scriptBody)
	summary1, err := s1.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary1.HWCap != 1 {
		t.Fatalf("HWCap = %d, want 1", summary1.HWCap)
	}
	if summary1.Failed != 0 {
		t.Fatalf("Failed = %d, want 0 (HW_CAP must not also count as failed)", summary1.Failed)
	}

	s2, proj2, _ := newTestHarness(t, inputDir, 1, scriptBody)
	if err := s2.initialDiscovery(); err != nil {
		t.Fatalf("initialDiscovery: %v", err)
	}
	snap := proj2.Snapshot()
	if snap.Discovery.ErrHW != 1 || snap.Discovery.Ready != 0 {
		t.Fatalf("second-run discovery = %+v, want 1 err_hw, 0 ready (no re-attempt)", snap.Discovery)
	}
}

func TestRunHardInterruptTransitionsInFlightToInterrupted(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		writeSourceFile(t, filepath.Join(inputDir, fmt.Sprintf("f%02d.mov", i)), 10000)
	}

	// No TERM trap: the shell (and the sleep it execs into) terminate
	// immediately on SIGTERM, so the supervisor's terminate sequence
	// resolves well within its bounded timeouts.
	scriptBody := `sleep 30`

	s, _, bus := newTestHarness(t, inputDir, 4, scriptBody)

	done := make(chan struct{})
	var summary Summary
	go func() {
		summary, _ = s.Run()
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	bus.Publish(eventbus.InterruptRequested{})

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after hard interrupt")
	}

	if summary.Interrupted != 4 {
		t.Fatalf("Interrupted = %d, want 4 (cap was 4)", summary.Interrupted)
	}
	if summary.Completed != 0 {
		t.Fatalf("Completed = %d, want 0", summary.Completed)
	}
	if !summary.WasInterrupted {
		t.Error("expected WasInterrupted to be true")
	}
}

func TestRunGracefulShutdownStopsNewSubmissions(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		writeSourceFile(t, filepath.Join(inputDir, fmt.Sprintf("f%02d.mov", i)), 10000)
	}

	scriptBody := `
out="${@: -1}"
sleep 0.4
printf 'x%.0s' $(seq 1 100) > "$out"
exit 0
`
	s, proj, bus := newTestHarness(t, inputDir, 1, scriptBody)

	done := make(chan struct{})
	var summary Summary
	go func() {
		summary, _ = s.Run()
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	bus.Publish(eventbus.RequestShutdown{})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after graceful shutdown")
	}

	if summary.Completed != 1 {
		t.Fatalf("Completed = %d, want 1 (only the already-in-flight job)", summary.Completed)
	}
	if summary.Interrupted != 0 {
		t.Fatalf("Interrupted = %d, want 0 (graceful shutdown never cancels)", summary.Interrupted)
	}
	snap := proj.Snapshot()
	if len(snap.ActiveJobs) != 0 {
		t.Errorf("expected no active jobs left, got %+v", snap.ActiveJobs)
	}
}

func TestDoRefreshAddsNewAndDropsDeleted(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	paths := make([]string, 5)
	for i := range paths {
		paths[i] = filepath.Join(inputDir, fmt.Sprintf("f%02d.mov", i))
		writeSourceFile(t, paths[i], 10000)
	}

	s, _, _ := newTestHarness(t, inputDir, 1, "exit 0\n")
	if err := s.initialDiscovery(); err != nil {
		t.Fatalf("initialDiscovery: %v", err)
	}

	s.mu.Lock()
	if len(s.pending) != 5 {
		s.mu.Unlock()
		t.Fatalf("pending = %d, want 5", len(s.pending))
	}
	s.mu.Unlock()

	if err := os.Remove(paths[0]); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(paths[1]); err != nil {
		t.Fatal(err)
	}
	newPath := filepath.Join(inputDir, "new.mov")
	writeSourceFile(t, newPath, 10000)

	s.doRefresh()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) != 4 {
		t.Fatalf("pending after refresh = %d, want 4 (5 - 2 deleted + 1 new)", len(s.pending))
	}
	var foundNew bool
	for _, sf := range s.pending {
		if sf.Path == newPath {
			foundNew = true
		}
		if sf.Path == paths[0] || sf.Path == paths[1] {
			t.Errorf("deleted file %s still pending", sf.Path)
		}
	}
	if !foundNew {
		t.Error("expected newly discovered file in pending queue")
	}
}

func TestAV1SkipAndCameraSkipCountersAreDistinct(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "in")
	if err := os.MkdirAll(inputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeSourceFile(t, filepath.Join(inputDir, "av1.mov"), 10000)
	writeSourceFile(t, filepath.Join(inputDir, "other.mov"), 10000)

	s, proj, _ := newTestHarness(t, inputDir, 2, "exit 0\n")
	s.cfg.SkipAV1 = true
	s.cfg.FilterCameras = []string{"gopro"}

	calls := map[string]string{
		filepath.Join(inputDir, "av1.mov"):   "av1",
		filepath.Join(inputDir, "other.mov"): "h264",
	}
	s.metaCache.Prober = func(path string) (*job.Metadata, error) {
		return &job.Metadata{Codec: calls[path], Camera: "unbranded"}, nil
	}

	summary, err := s.Run()
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.AV1Skipped != 1 {
		t.Errorf("AV1Skipped = %d, want 1", summary.AV1Skipped)
	}
	if summary.CameraSkipped != 1 {
		t.Errorf("CameraSkipped = %d, want 1", summary.CameraSkipped)
	}
	if summary.Skipped != 0 {
		t.Errorf("Skipped = %d, want 0 (specific counters should have been used)", summary.Skipped)
	}
	_ = proj
}
