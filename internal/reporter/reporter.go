package reporter

import (
	"os"

	"github.com/five82/vbcompress/internal/eventbus"
	"github.com/five82/vbcompress/internal/job"
)

// Bridge subscribes a Reporter to the Control Event Bus, translating each
// event into the corresponding Reporter call (§4.6). It is the seam
// between the Scheduler's event stream and whatever renders it; swapping
// Reporter implementations (terminal, NDJSON, composite, null) never
// touches the Scheduler.
type Bridge struct {
	Reporter Reporter
}

// NewBridge creates a Bridge wrapping the given Reporter.
func NewBridge(r Reporter) *Bridge {
	return &Bridge{Reporter: r}
}

// Subscribe registers the bridge's handlers on bus. Call once per run.
func (b *Bridge) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.NameDiscoveryStarted, b.onDiscoveryStarted)
	bus.Subscribe(eventbus.NameDiscoveryFinished, b.onDiscoveryFinished)
	bus.Subscribe(eventbus.NameJobStarted, b.onJobStarted)
	bus.Subscribe(eventbus.NameJobProgressUpdated, b.onJobProgress)
	bus.Subscribe(eventbus.NameJobCompleted, b.onJobCompleted)
	bus.Subscribe(eventbus.NameJobFailed, b.onJobFailed)
	bus.Subscribe(eventbus.NameJobInterrupted, b.onJobInterrupted)
	bus.Subscribe(eventbus.NameHardwareCapabilityExceeded, b.onHardwareCapabilityExceeded)
	bus.Subscribe(eventbus.NameQueueUpdated, b.onQueueUpdated)
	bus.Subscribe(eventbus.NameActionMessage, b.onActionMessage)
}

func (b *Bridge) onDiscoveryStarted(e eventbus.Event) {
	if evt, ok := e.(eventbus.DiscoveryStarted); ok {
		b.Reporter.DiscoveryStarted(evt.Directory)
	}
}

func (b *Bridge) onDiscoveryFinished(e eventbus.Event) {
	if evt, ok := e.(eventbus.DiscoveryFinished); ok {
		b.Reporter.DiscoveryFinished(DiscoveryStats{
			Ready:       evt.Ready,
			AlreadyDone: evt.AlreadyDone,
			ErrGeneral:  evt.ErrGeneral,
			ErrHW:       evt.ErrHW,
			TooSmall:    evt.TooSmall,
		})
	}
}

func (b *Bridge) onJobStarted(e eventbus.Event) {
	if evt, ok := e.(eventbus.JobStarted); ok {
		b.Reporter.JobStarted(jobSourcePath(evt.Job), evt.Job.OutputPath)
	}
}

func (b *Bridge) onJobProgress(e eventbus.Event) {
	if evt, ok := e.(eventbus.JobProgressUpdated); ok {
		b.Reporter.JobProgress(jobSourcePath(evt.Job), evt.Percent)
	}
}

func (b *Bridge) onJobCompleted(e eventbus.Event) {
	if evt, ok := e.(eventbus.JobCompleted); ok {
		bytesIn := evt.Job.Source.Size
		bytesOut := bytesIn
		if info, err := os.Stat(evt.Job.OutputPath); err == nil {
			bytesOut = info.Size()
		}
		b.Reporter.JobCompleted(jobSourcePath(evt.Job), evt.Job.OutputPath, bytesIn, bytesOut)
	}
}

func (b *Bridge) onJobFailed(e eventbus.Event) {
	if evt, ok := e.(eventbus.JobFailed); ok {
		b.Reporter.JobFailed(jobSourcePath(evt.Job), evt.Message)
	}
}

func (b *Bridge) onJobInterrupted(e eventbus.Event) {
	if evt, ok := e.(eventbus.JobInterrupted); ok {
		b.Reporter.JobInterrupted(jobSourcePath(evt.Job))
	}
}

func (b *Bridge) onHardwareCapabilityExceeded(e eventbus.Event) {
	if evt, ok := e.(eventbus.HardwareCapabilityExceeded); ok {
		b.Reporter.JobHWCap(jobSourcePath(evt.Job), evt.Job.ErrorMessage)
	}
}

func (b *Bridge) onQueueUpdated(e eventbus.Event) {
	if evt, ok := e.(eventbus.QueueUpdated); ok {
		b.Reporter.QueueUpdated(evt.PendingPreview, evt.PendingTotal)
	}
}

func (b *Bridge) onActionMessage(e eventbus.Event) {
	if evt, ok := e.(eventbus.ActionMessage); ok {
		b.Reporter.ActionMessage(evt.Text)
	}
}

func jobSourcePath(j *job.Job) string {
	if j == nil || j.Source == nil {
		return ""
	}
	return j.Source.Path
}
