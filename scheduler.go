package observable

// Task is a unit of deferred work. Errors are returned to whoever drains the
// deferrer.
type Task func() error

// Deferrer runs tasks strictly after the synchronous execution window that
// scheduled them. Implementations are expected to run tasks on the same
// logical thread as the mutations that scheduled them.
type Deferrer interface {
	Defer(task Task)
}

// Dispatcher runs fn as one synchronous execution window and then runs the
// work it deferred, returning any error produced by that work.
type Dispatcher interface {
	Dispatch(fn func()) error
}

type schedulerState int

const (
	stateIdle schedulerState = iota
	statePending
)

func (s schedulerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case statePending:
		return "pending"
	default:
		return "unknown"
	}
}

// Scheduler coalesces flush requests issued during one execution window into
// a single deferred flush.
type Scheduler struct {
	state    schedulerState
	deferrer Deferrer
	flush    func() error
}

func newScheduler(deferrer Deferrer, flush func() error) *Scheduler {
	return &Scheduler{
		deferrer: deferrer,
		flush:    flush,
	}
}

// RequestFlush schedules a deferred flush unless one is already pending.
func (s *Scheduler) RequestFlush() {
	if s.state == statePending {
		return
	}
	s.state = statePending
	s.deferrer.Defer(s.run)
}

// Pending reports whether a flush is scheduled and has not run yet.
func (s *Scheduler) Pending() bool {
	return s.state == statePending
}

// The scheduler returns to idle before the flush body runs so that mutations
// made by the sink, watchers or after-flush callbacks schedule a new flush.
func (s *Scheduler) run() error {
	s.state = stateIdle
	return s.flush()
}
