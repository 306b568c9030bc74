package observable

import (
	"context"
	"time"

	"github.com/goliatone/go-observable/pkg/activity"
)

// CommitSink receives the changes of one flush cycle. It is called at most
// once per flush and never with an empty patch map. Entries must be applied
// in order.
type CommitSink interface {
	Commit(ctx context.Context, patch PatchMap) error
}

// CommitFunc adapts a function to CommitSink.
type CommitFunc func(ctx context.Context, patch PatchMap) error

// Commit implements CommitSink.
func (f CommitFunc) Commit(ctx context.Context, patch PatchMap) error {
	if f == nil {
		return nil
	}
	return f(ctx, patch)
}

// ComputedField is a read-only root field whose value is the result of an
// expression evaluated against the instance data.
type ComputedField struct {
	Name string
	Expr string
}

// RuleContext carries inputs needed when evaluating an expression.
type RuleContext struct {
	Data       any
	Now        *time.Time
	Args       map[string]any
	Metadata   map[string]any
	Field      string
	InstanceID string
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) label() string {
	if ctx.Field != "" {
		return ctx.Field
	}
	return "unknown"
}

// data returns the evaluation root. Anything other than a mapping evaluates
// against an empty environment.
func (ctx RuleContext) data() map[string]any {
	if m, ok := ctx.Data.(map[string]any); ok && m != nil {
		return m
	}
	return map[string]any{}
}

// binding is exposed to expressions as the "instance" variable.
func (ctx RuleContext) binding() map[string]any {
	return map[string]any{
		"id":    ctx.InstanceID,
		"field": ctx.Field,
	}
}

// Evaluator executes expressions against a rule context.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct{}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// Option configures an Instance.
type Option func(*instanceConfig)

type instanceConfig struct {
	ctx             context.Context
	deferrer        Deferrer
	id              string
	flushLogger     FlushLogger
	evaluator       Evaluator
	evaluatorLogger EvaluatorLogger
	programCache    ProgramCache
	functions       *FunctionRegistry
	computed        []ComputedField
	mixins          []DataLayer
	activityHooks   activity.Hooks
	activityConfig  *activity.Config
}

func applyOptions(opts []Option) instanceConfig {
	cfg := instanceConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ctx == nil {
		cfg.ctx = context.Background()
	}
	if cfg.deferrer == nil {
		cfg.deferrer = NewQueue()
	}
	return cfg
}

func (cfg instanceConfig) logger() FlushLogger {
	if cfg.flushLogger != nil {
		return cfg.flushLogger
	}
	return noopFlushLogger{}
}

func (cfg instanceConfig) evalLogger() EvaluatorLogger {
	if cfg.evaluatorLogger != nil {
		return cfg.evaluatorLogger
	}
	return noopEvaluatorLogger{}
}

func (cfg instanceConfig) emitter() *activity.Emitter {
	config := activity.Config{Enabled: len(cfg.activityHooks) > 0}
	if cfg.activityConfig != nil {
		config = *cfg.activityConfig
	}
	return activity.NewEmitter(cfg.activityHooks, config)
}
