package observable

import (
	"context"
	"errors"
	"fmt"
)

// Queue is a caller-driven deferrer. Tasks deferred while a window is open
// run when the outermost Dispatch returns, or when Drain is called.
//
// NOT thread-safe. All calls must come from the instance's logical thread.
type Queue struct {
	tasks    []Task
	depth    int
	draining bool
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Defer appends task to the queue.
func (q *Queue) Defer(task Task) {
	if task == nil {
		return
	}
	q.tasks = append(q.tasks, task)
}

// Pending returns the number of queued tasks.
func (q *Queue) Pending() int {
	return len(q.tasks)
}

// Dispatch runs fn as one synchronous window. Nested Dispatch calls join the
// enclosing window. When the outermost call returns, queued tasks are drained.
func (q *Queue) Dispatch(fn func()) error {
	q.depth++
	func() {
		defer func() { q.depth-- }()
		if fn != nil {
			fn()
		}
	}()
	if q.depth > 0 {
		return nil
	}
	return q.Drain()
}

// Drain runs queued tasks, including tasks deferred by the tasks themselves,
// until the queue is empty. Task errors are joined. A Drain issued from inside
// a running task returns immediately; the outer Drain picks up the work.
func (q *Queue) Drain() error {
	if q.draining {
		return nil
	}
	q.draining = true
	defer func() { q.draining = false }()

	var errs []error
	for len(q.tasks) > 0 {
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		if err := task(); err != nil {
			errs = append(errs, err)
		}
	}
	q.tasks = nil
	return errors.Join(errs...)
}

// EventLoop owns a logical thread on its own goroutine. Triggers posted with
// Do run one after another; triggers that are already queued when one
// finishes join the same window, and deferred tasks drain once the window
// closes.
type EventLoop struct {
	triggers chan *trigger
	tasks    []Task
	done     chan struct{}
}

type trigger struct {
	fn   func()
	errc chan error
}

// NewEventLoop returns a loop whose trigger queue holds up to buffer pending
// triggers.
func NewEventLoop(buffer int) *EventLoop {
	if buffer < 0 {
		buffer = 0
	}
	return &EventLoop{
		triggers: make(chan *trigger, buffer),
		done:     make(chan struct{}),
	}
}

// Defer queues task for the end of the current window. It must only be called
// from the loop goroutine, which is where instance mutations run.
func (l *EventLoop) Defer(task Task) {
	if task == nil {
		return
	}
	l.tasks = append(l.tasks, task)
}

// Run processes triggers until ctx is done. Pending deferred tasks are drained
// before Run returns and their errors are joined with ctx.Err().
func (l *EventLoop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return errors.Join(ctx.Err(), l.drain())
		case t := <-l.triggers:
			l.window(t)
		}
	}
}

// Dispatch is Do with a background context.
func (l *EventLoop) Dispatch(fn func()) error {
	return l.Do(context.Background(), fn)
}

// Do posts fn to the loop and waits until fn and the flush covering it have
// run. It must not be called from inside a trigger.
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	t := &trigger{fn: fn, errc: make(chan error, 1)}
	select {
	case l.triggers <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrLoopStopped
	}
	select {
	case err := <-t.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-t.errc:
			return err
		default:
			return ErrLoopStopped
		}
	}
}

func (l *EventLoop) window(first *trigger) {
	batch := []*trigger{first}
	errs := []error{invoke(first.fn)}
	for more := true; more; {
		select {
		case t := <-l.triggers:
			batch = append(batch, t)
			errs = append(errs, invoke(t.fn))
		default:
			more = false
		}
	}
	drainErr := l.drain()
	for i, t := range batch {
		t.errc <- errors.Join(errs[i], drainErr)
	}
}

func (l *EventLoop) drain() error {
	var errs []error
	for len(l.tasks) > 0 {
		task := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		if err := task(); err != nil {
			errs = append(errs, err)
		}
	}
	l.tasks = nil
	return errors.Join(errs...)
}

func invoke(fn func()) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("observable: trigger panicked: %w", e)
				return
			}
			err = fmt.Errorf("observable: trigger panicked: %v", r)
		}
	}()
	fn()
	return nil
}
