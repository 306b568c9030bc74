package observable

import (
	"context"

	"github.com/goliatone/go-observable/pkg/activity"
)

// WithDeferrer sets the deferrer that runs flushes. The default is a fresh
// Queue, drained through Instance.Dispatch.
func WithDeferrer(d Deferrer) Option {
	return func(cfg *instanceConfig) {
		cfg.deferrer = d
	}
}

// WithContext sets the context passed to the commit sink and activity hooks.
func WithContext(ctx context.Context) Option {
	return func(cfg *instanceConfig) {
		cfg.ctx = ctx
	}
}

// WithInstanceID overrides the generated instance identifier.
func WithInstanceID(id string) Option {
	return func(cfg *instanceConfig) {
		cfg.id = id
	}
}

// WithEvaluator configures the evaluator used for computed fields.
func WithEvaluator(e Evaluator) Option {
	return func(cfg *instanceConfig) {
		cfg.evaluator = e
	}
}

// WithComputed declares a read-only root field computed from expr.
// Declarations are evaluated in order, so a later field can read an earlier
// one.
func WithComputed(name, expr string) Option {
	return func(cfg *instanceConfig) {
		cfg.computed = append(cfg.computed, ComputedField{Name: name, Expr: expr})
	}
}

// WithMixins merges layers beneath the instance's own data. The instance data
// always wins; among mixins the higher priority wins.
func WithMixins(layers ...DataLayer) Option {
	return func(cfg *instanceConfig) {
		cfg.mixins = append(cfg.mixins, layers...)
	}
}

// WithActivityHooks attaches activity hooks that receive commit events.
// Hooks are cloned and nil entries dropped.
func WithActivityHooks(hooks activity.Hooks) Option {
	normalized := cloneActivityHooks(hooks)
	return func(cfg *instanceConfig) {
		cfg.activityHooks = normalized
	}
}

// WithActivityConfig overrides activity emission defaults. Without it events
// are emitted whenever hooks are configured, on the "observable" channel.
func WithActivityConfig(config activity.Config) Option {
	return func(cfg *instanceConfig) {
		cfg.activityConfig = &config
	}
}

func cloneActivityHooks(hooks activity.Hooks) activity.Hooks {
	if len(hooks) == 0 {
		return nil
	}
	normalized := make([]activity.ActivityHook, 0, len(hooks))
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		normalized = append(normalized, hook)
	}
	if len(normalized) == 0 {
		return nil
	}
	return activity.Hooks(normalized)
}
