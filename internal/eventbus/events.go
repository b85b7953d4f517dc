package eventbus

import "github.com/five82/vbcompress/internal/job"

// Event name constants, one per concrete type below (§4.6).
const (
	NameDiscoveryStarted           = "discovery_started"
	NameDiscoveryFinished          = "discovery_finished"
	NameJobStarted                 = "job_started"
	NameJobProgressUpdated         = "job_progress_updated"
	NameJobCompleted               = "job_completed"
	NameJobFailed                  = "job_failed"
	NameJobInterrupted             = "job_interrupted"
	NameHardwareCapabilityExceeded = "hardware_capability_exceeded"
	NameQueueUpdated               = "queue_updated"
	NameRequestShutdown            = "request_shutdown"
	NameInterruptRequested         = "interrupt_requested"
	NameThreadControlEvent         = "thread_control_event"
	NameRefreshRequested           = "refresh_requested"
	NameActionMessage              = "action_message"
)

// DiscoveryStarted is published when the Discovery Scanner begins walking
// a directory (the initial scan or a refresh).
type DiscoveryStarted struct {
	Directory string
}

func (DiscoveryStarted) EventName() string { return NameDiscoveryStarted }

// DiscoveryFinished is published when a scan completes, carrying the
// per-bucket counts the UI displays.
type DiscoveryFinished struct {
	Ready       int
	AlreadyDone int
	ErrGeneral  int
	ErrHW       int
	TooSmall    int
}

func (DiscoveryFinished) EventName() string { return NameDiscoveryFinished }

// JobStarted is published when a supervisor begins running a Job.
type JobStarted struct {
	Job *job.Job
}

func (JobStarted) EventName() string { return NameJobStarted }

// JobProgressUpdated is published as the supervisor observes encode
// progress on the child's diagnostic stream.
type JobProgressUpdated struct {
	Job     *job.Job
	Percent float32
}

func (JobProgressUpdated) EventName() string { return NameJobProgressUpdated }

// JobCompleted is published when a Job reaches StatusCompleted.
type JobCompleted struct {
	Job *job.Job
}

func (JobCompleted) EventName() string { return NameJobCompleted }

// JobFailed is published when a Job reaches StatusFailed or StatusHWCap.
type JobFailed struct {
	Job     *job.Job
	Message string
}

func (JobFailed) EventName() string { return NameJobFailed }

// JobInterrupted is published when a Job reaches StatusInterrupted. Kept
// distinct from JobFailed (§9 Design Notes: the INTERRUPTED/FAILED open
// question is resolved here with a dedicated event) so the State
// Projection can count interruptions separately from failures without
// string-sniffing a message.
type JobInterrupted struct {
	Job *job.Job
}

func (JobInterrupted) EventName() string { return NameJobInterrupted }

// HardwareCapabilityExceeded is published when the encoder's diagnostic
// stream carries the capability-failure signature.
type HardwareCapabilityExceeded struct {
	Job *job.Job
}

func (HardwareCapabilityExceeded) EventName() string { return NameHardwareCapabilityExceeded }

// QueueUpdated is published whenever the pending queue changes shape
// (submission, refresh merge), carrying a preview of the first few
// pending paths.
type QueueUpdated struct {
	PendingPreview []string
	PendingTotal   int
}

func (QueueUpdated) EventName() string { return NameQueueUpdated }

// RequestShutdown is published by an external collaborator (the keyboard
// listener) to request a graceful shutdown.
type RequestShutdown struct{}

func (RequestShutdown) EventName() string { return NameRequestShutdown }

// InterruptRequested is published on a hard interrupt (process signal).
type InterruptRequested struct{}

func (InterruptRequested) EventName() string { return NameInterruptRequested }

// ThreadControlEvent adjusts the dynamic concurrency cap by Change, one of
// {-1, +1}.
type ThreadControlEvent struct {
	Change int
}

func (ThreadControlEvent) EventName() string { return NameThreadControlEvent }

// RefreshRequested is published by an external collaborator to request a
// rescan of the input tree.
type RefreshRequested struct{}

func (RefreshRequested) EventName() string { return NameRefreshRequested }

// ActionMessage carries a human-readable status line for the UI (e.g. a
// refresh delta summary).
type ActionMessage struct {
	Text string
}

func (ActionMessage) EventName() string { return NameActionMessage }
