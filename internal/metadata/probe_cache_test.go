package metadata

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/five82/vbcompress/internal/deepmeta"
	"github.com/five82/vbcompress/internal/job"
)

func withFakeProbe(t *testing.T, fn func(path string) (*job.Metadata, error)) {
	t.Helper()
	orig := ffprobeProbe
	ffprobeProbe = fn
	t.Cleanup(func() { ffprobeProbe = orig })
}

func TestProbeCachesAfterFirstExtraction(t *testing.T) {
	c := New(false, nil)
	var calls int32
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		atomic.AddInt32(&calls, 1)
		return &job.Metadata{}, nil
	})

	if _, err := c.Probe("clip.mov"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if _, err := c.Probe("clip.mov"); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("expected ffprobe invoked once across two calls, got %d", calls)
	}
}

func TestProbeCollapsesConcurrentCallsForSamePath(t *testing.T) {
	c := New(false, nil)
	var calls int32
	release := make(chan struct{})
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return &job.Metadata{}, nil
	})

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		go func() {
			defer wg.Done()
			_, _ = c.Probe("clip.mov")
		}()
	}
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("expected a single ffprobe invocation under concurrent load, got %d", calls)
	}
}

func TestDropEvictsEntry(t *testing.T) {
	c := New(false, nil)
	var calls int32
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		atomic.AddInt32(&calls, 1)
		return &job.Metadata{}, nil
	})

	if _, err := c.Probe("clip.mov"); err != nil {
		t.Fatal(err)
	}
	c.Drop("clip.mov")
	if _, err := c.Probe("clip.mov"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected a re-extraction after Drop, got %d calls", calls)
	}
}

func TestProbePropagatesExtractionError(t *testing.T) {
	c := New(false, nil)
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		return nil, errBoom
	})
	if _, err := c.Probe("clip.mov"); err == nil {
		t.Error("expected Probe() to propagate the extraction error")
	}
}

func TestProbeAppliesCameraIdentification(t *testing.T) {
	c := New(true, []deepmeta.CQRule{{Substring: "hero11", CQ: 22}})
	c.exifReady = true
	c.exiftool = func(path string) (deepmeta.Tags, error) {
		return deepmeta.Tags{Make: "GoPro", Model: "HERO11 Black"}, nil
	}
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		return &job.Metadata{}, nil
	})

	meta, err := c.Probe("clip.mov")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Camera != "hero11" {
		t.Errorf("Camera = %q, want %q", meta.Camera, "hero11")
	}
}

func TestProbeSkipsCameraIdentificationWhenExifNotReady(t *testing.T) {
	c := New(true, []deepmeta.CQRule{{Substring: "hero11", CQ: 22}})
	c.exifReady = false
	c.exiftool = func(path string) (deepmeta.Tags, error) {
		t.Fatal("exiftool should not be invoked when exifReady is false")
		return deepmeta.Tags{}, nil
	}
	withFakeProbe(t, func(path string) (*job.Metadata, error) {
		return &job.Metadata{}, nil
	})

	meta, err := c.Probe("clip.mov")
	if err != nil {
		t.Fatal(err)
	}
	if meta.Camera != "" {
		t.Errorf("Camera = %q, want empty", meta.Camera)
	}
}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

var errBoom = &fakeErr{msg: "boom"}
