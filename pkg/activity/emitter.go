package activity

import (
	"context"
	"strings"
)

// DefaultChannel is used for events that do not name a channel.
const DefaultChannel = "observable"

// Config controls activity emission defaults supplied by DI/config.
type Config struct {
	Enabled bool
	Channel string
	// ActorID and TenantID fill events that do not carry their own.
	ActorID  string
	TenantID string
}

// Emitter fans out events to hooks while applying defaults.
type Emitter struct {
	hooks    Hooks
	enabled  bool
	channel  string
	actorID  string
	tenantID string
}

// NewEmitter constructs an emitter from hooks and configuration.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	normalizedHooks := cloneHooks(hooks)
	return &Emitter{
		hooks:    normalizedHooks,
		enabled:  cfg.Enabled && len(normalizedHooks) > 0,
		channel:  channel,
		actorID:  strings.TrimSpace(cfg.ActorID),
		tenantID: strings.TrimSpace(cfg.TenantID),
	}
}

// Enabled reports whether emissions should be attempted.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled && len(e.hooks) > 0
}

// Channel returns the default channel.
func (e *Emitter) Channel() string {
	if e == nil {
		return DefaultChannel
	}
	return e.channel
}

// Emit forwards the event to all hooks, applying defaults for missing fields.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.ActorID) == "" {
		event.ActorID = e.actorID
	}
	if strings.TrimSpace(event.TenantID) == "" {
		event.TenantID = e.tenantID
	}
	return e.hooks.Notify(ctx, event)
}

func cloneHooks(hooks Hooks) Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	return Hooks(normalized)
}
