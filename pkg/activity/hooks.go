package activity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Event is one lifecycle occurrence of an observable instance: a flush that
// the commit sink accepted or rejected, or a teardown.
type Event struct {
	Verb       string
	InstanceID string
	// FlushID and Keys are empty for teardown events.
	FlushID  string
	Keys     []string
	Duration time.Duration
	// Err holds the sink error text of a rejected flush.
	Err string

	ActorID    string
	UserID     string
	TenantID   string
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// Valid reports whether the event names a verb and an instance.
func (e Event) Valid() bool {
	return e.Verb != "" && e.InstanceID != ""
}

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify normalizes event and hands it to every hook. Invalid events are
// dropped. Hook failures are joined, each tagged with the hook position.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	normalized := NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, fmt.Errorf("activity: hook %d %s: %w", i, normalized.Verb, err))
		}
	}
	return errors.Join(errs...)
}

// NormalizeEvent trims identifiers, copies keys and metadata, and stamps the
// event time when it is missing.
func NormalizeEvent(event Event) Event {
	out := event
	for _, field := range []*string{
		&out.Verb, &out.InstanceID, &out.FlushID, &out.ActorID,
		&out.UserID, &out.TenantID, &out.Channel,
	} {
		*field = strings.TrimSpace(*field)
	}
	out.Keys = slices.Clone(event.Keys)
	if len(event.Metadata) > 0 {
		out.Metadata = maps.Clone(event.Metadata)
	} else {
		out.Metadata = nil
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now()
	}
	return out
}
