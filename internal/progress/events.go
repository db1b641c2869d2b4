package progress

// Stage names a pipeline stage for structured progress reporting.
type Stage string

const (
	StageScan          Stage = "scan"
	StageQ1Bucket      Stage = "q1_bucket"
	StageQ2Partial     Stage = "q2_partial"
	StageQ2Full        Stage = "q2_full"
	StageQ3Cluster     Stage = "q3_cluster"
	StageQ4Fingerprint Stage = "q4_fingerprint"
	StageQ5Overlap     Stage = "q5_overlap"
	StageGroup         Stage = "group"
	StageReport        Stage = "report"
)

// Status describes the outcome of one unit of work within a stage.
type Status string

const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusFinished  Status = "finished"
)

// Event is one structured progress notification emitted by the Pipeline.
// It carries enough information for an external observer (a terminal
// dashboard, a log sink) to render stage-by-stage progress without reaching
// into pipeline internals.
type Event struct {
	Stage  Stage
	Status Status
	Path   string // file under consideration, empty for stage-level events
	Detail string // human-readable extra context (error message, counts)
}

// EventStream is a lock-free single-producer event channel: the Pipeline is
// the sole sender, any number of goroutines may range over Events to
// consume them (a terminal dashboard, internal/progress.Bar, a log sink).
// There is no process-wide progress singleton — a stream handle is passed
// by reference into every stage.
type EventStream struct {
	events chan Event
}

// NewEventStream creates a stream with the given buffer size. A size of 0
// yields an unbuffered channel (send blocks until a consumer receives).
func NewEventStream(buffer int) *EventStream {
	return &EventStream{events: make(chan Event, buffer)}
}

// Emit sends an event. Safe to call on a nil *EventStream (no-op), so
// stages do not need to nil-check an optional observer.
func (s *EventStream) Emit(e Event) {
	if s == nil {
		return
	}
	s.events <- e
}

// Events returns the receive-only channel for consumers to range over.
func (s *EventStream) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.events
}

// Close closes the underlying channel. Only the Pipeline (the single
// producer) should call this, after all stages have finished emitting.
func (s *EventStream) Close() {
	if s == nil {
		return
	}
	close(s.events)
}
