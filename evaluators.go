package observable

import "fmt"

type jsEvaluatorConfig struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// JSEvaluatorOption configures the JS evaluator.
type JSEvaluatorOption func(*jsEvaluatorConfig)

// JSWithProgramCache applies a ProgramCache to the JS evaluator.
func JSWithProgramCache(cache ProgramCache) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		cfg.cache = cache
	}
}

// JSWithFunctionRegistry applies a FunctionRegistry to the JS evaluator.
func JSWithFunctionRegistry(registry *FunctionRegistry) JSEvaluatorOption {
	return func(cfg *jsEvaluatorConfig) {
		if registry != nil {
			cfg.registry = registry.Clone()
		}
	}
}

func applyJSEvaluatorOptions(opts []JSEvaluatorOption) jsEvaluatorConfig {
	var cfg jsEvaluatorConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// resolveEvaluator returns the configured evaluator or builds the default expr
// evaluator from the configured cache and functions.
func (cfg instanceConfig) resolveEvaluator() (Evaluator, error) {
	if cfg.evaluator != nil {
		return cfg.evaluator, nil
	}
	var exprOpts []ExprEvaluatorOption
	if cfg.programCache != nil {
		exprOpts = append(exprOpts, ExprWithProgramCache(cfg.programCache))
	}
	if cfg.functions != nil {
		exprOpts = append(exprOpts, ExprWithFunctionRegistry(cfg.functions))
	}
	evaluator := NewExprEvaluator(exprOpts...)
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	return evaluator, nil
}

// evaluatorEngineName matches on the printed type so the js evaluator can be
// named without the js_eval build tag.
func evaluatorEngineName(e Evaluator) string {
	if e == nil {
		return "unknown"
	}
	switch fmt.Sprintf("%T", e) {
	case "*observable.exprEvaluator":
		return "expr"
	case "*observable.celEvaluator":
		return "cel"
	case "*observable.jsEvaluator":
		return "js"
	default:
		return "custom"
	}
}
