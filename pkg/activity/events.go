package activity

import (
	"slices"
	"time"
)

const (
	// VerbCommitted is emitted after a commit sink accepted a flush.
	VerbCommitted = "data.committed"
	// VerbCommitFailed is emitted when a commit sink rejected a flush.
	VerbCommitFailed = "data.commit_failed"
	// VerbTornDown is emitted when an instance is torn down.
	VerbTornDown = "instance.torn_down"

	// ObjectTypeInstance is the object type sinks record instance events under.
	ObjectTypeInstance = "observable.instance"
)

// CommitEventInput describes one flush of an instance.
type CommitEventInput struct {
	InstanceID string
	FlushID    string
	Keys       []string
	Duration   time.Duration
	Err        error
	ActorID    string
	UserID     string
	TenantID   string
	Channel    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildCommitEvent constructs the event for a successful commit.
func BuildCommitEvent(input CommitEventInput) Event {
	return buildInstanceEvent(VerbCommitted, input)
}

// BuildCommitFailedEvent constructs the event for a rejected commit.
func BuildCommitFailedEvent(input CommitEventInput) Event {
	return buildInstanceEvent(VerbCommitFailed, input)
}

// BuildTeardownEvent constructs the event for a torn down instance. Flush
// fields of input are ignored.
func BuildTeardownEvent(input CommitEventInput) Event {
	input.FlushID, input.Keys, input.Duration, input.Err = "", nil, 0, nil
	return buildInstanceEvent(VerbTornDown, input)
}

func buildInstanceEvent(verb string, input CommitEventInput) Event {
	event := Event{
		Verb:       verb,
		InstanceID: input.InstanceID,
		FlushID:    input.FlushID,
		Keys:       slices.Clone(input.Keys),
		Duration:   input.Duration,
		ActorID:    input.ActorID,
		UserID:     input.UserID,
		TenantID:   input.TenantID,
		Channel:    input.Channel,
		Metadata:   input.Metadata,
		OccurredAt: input.OccurredAt,
	}
	if input.Err != nil {
		event.Err = input.Err.Error()
	}
	return NormalizeEvent(event)
}
