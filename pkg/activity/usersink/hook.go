// Package usersink forwards instance activity events to a go-users
// ActivitySink.
package usersink

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/goliatone/go-observable/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts activity events to a go-users ActivitySink. When Verbs is not
// empty only events with one of those verbs are forwarded.
type Hook struct {
	Sink  usertypes.ActivitySink
	Verbs []string
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	normalized := activity.NormalizeEvent(event)
	if !normalized.Valid() {
		return nil
	}
	if len(h.Verbs) > 0 && !slices.Contains(h.Verbs, normalized.Verb) {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, Record(normalized))
}

// Record converts a normalized event into an ActivityRecord. Flush details
// go into the record data; identifiers that are not UUIDs map to uuid.Nil and
// are kept in the data as well.
func Record(event activity.Event) usertypes.ActivityRecord {
	data := flushData(event)
	actorID, data := parseUUID(event.ActorID, "actor_id", data)
	userID, data := parseUUID(event.UserID, "user_id", data)
	tenantID, data := parseUUID(event.TenantID, "tenant_id", data)
	return usertypes.ActivityRecord{
		ActorID:    actorID,
		UserID:     userID,
		TenantID:   tenantID,
		Verb:       event.Verb,
		ObjectType: activity.ObjectTypeInstance,
		ObjectID:   event.InstanceID,
		Channel:    event.Channel,
		Data:       data,
		OccurredAt: event.OccurredAt,
	}
}

func flushData(event activity.Event) map[string]any {
	data := cloneMap(event.Metadata)
	set := func(key string, value any) {
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}
	if event.FlushID != "" {
		set("flush_id", event.FlushID)
	}
	if len(event.Keys) > 0 {
		set("keys", slices.Clone(event.Keys))
		set("key_count", len(event.Keys))
	}
	if event.Duration > 0 {
		set("duration_ms", event.Duration.Milliseconds())
	}
	if event.Err != "" {
		set("error", event.Err)
	}
	return data
}

func parseUUID(input, key string, data map[string]any) (uuid.UUID, map[string]any) {
	value := strings.TrimSpace(input)
	if value == "" {
		return uuid.Nil, data
	}
	id, err := uuid.Parse(value)
	if err == nil {
		return id, data
	}
	if data == nil {
		data = map[string]any{}
	}
	data[key] = value
	return uuid.Nil, data
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
