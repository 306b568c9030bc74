package observable

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	celgo "github.com/google/cel-go/cel"
	functions "github.com/google/cel-go/common/functions"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

type celProgram struct {
	env     *celgo.Env
	program celgo.Program
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Every top-level
// data field is declared as a dyn variable.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("expression must not be empty"))
	}
	ctx = ctx.withDefaults()
	data := ctx.data()
	program, err := e.loadOrCompile(expression, data)
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, ctx.label(), err)
	}
	out, _, err := program.program.Eval(e.activation(ctx, data))
	if err != nil {
		return nil, wrapEvaluationError("cel", expression, ctx.label(), err)
	}
	return nativeCELValue(out), nil
}

func (e *celEvaluator) Compile(expression string, _ ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("expression must not be empty"))
	}
	return &celCompiledRule{
		evaluator:  e,
		expression: expression,
	}, nil
}

// The declared variables depend on the data keys, so programs are cached per
// expression and key set.
func celCacheKey(expression string, data map[string]any) string {
	return "cel:" + strings.Join(slices.Sorted(maps.Keys(data)), ",") + ":" + expression
}

func (e *celEvaluator) loadOrCompile(expression string, data map[string]any) (*celProgram, error) {
	key := celCacheKey(expression, data)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(*celProgram); ok {
				return program, nil
			}
		}
	}

	env, err := e.buildEnv(data)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	bundle := &celProgram{env: env, program: prg}
	if e.cache != nil {
		e.cache.Set(key, bundle)
	}
	return bundle, nil
}

func (e *celEvaluator) buildEnv(data map[string]any) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
		celgo.Variable("instance", celgo.DynType),
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call", celgo.Overload(
			"call_dyn",
			[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
			celgo.DynType,
			celgo.FunctionBinding(functions.FunctionOp(e.callBinding())),
		)))
	}
	for key := range data {
		switch key {
		case "now", "args", "metadata", "instance":
			continue
		}
		opts = append(opts, celgo.Variable(key, celgo.DynType))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) activation(ctx RuleContext, data map[string]any) map[string]any {
	activation := map[string]any{
		"now":      ctx.timestamp(),
		"args":     ctx.Args,
		"metadata": ctx.Metadata,
		"instance": ctx.binding(),
	}
	for key, value := range data {
		if _, reserved := activation[key]; reserved {
			continue
		}
		activation[key] = value
	}
	return activation
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError("cel", fmt.Errorf("compiled rule missing evaluator"))
	}
	return r.evaluator.Evaluate(ctx, r.expression)
}

var (
	anySliceType = reflect.TypeOf([]any{})
	anyMapType   = reflect.TypeOf(map[string]any{})
)

// nativeCELValue converts CEL lists and maps to the plain shapes the data tree
// understands. Other values use their native Go form.
func nativeCELValue(out ref.Val) any {
	switch out.Type() {
	case types.ListType:
		if v, err := out.ConvertToNative(anySliceType); err == nil {
			return v
		}
	case types.MapType:
		if v, err := out.ConvertToNative(anyMapType); err == nil {
			return v
		}
	case types.NullType:
		return nil
	}
	return out.Value()
}

// callBinding dispatches call(name, [args]) to the function registry.
func (e *celEvaluator) callBinding() func(values ...ref.Val) ref.Val {
	return func(values ...ref.Val) ref.Val {
		if e.registry == nil {
			return types.NewErr("observable: function registry not configured")
		}
		if len(values) != 2 {
			return types.NewErr("observable: call requires a name and an argument list")
		}
		name, ok := values[0].Value().(string)
		if !ok {
			return types.NewErr("observable: call name must be string")
		}
		var args []any
		if list, ok := values[1].(traits.Lister); ok {
			size, _ := list.Size().Value().(int64)
			for i := int64(0); i < size; i++ {
				args = append(args, nativeCELValue(list.Get(types.Int(i))))
			}
		}
		result, err := e.registry.Call(name, args...)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if result == nil {
			return types.NullValue
		}
		return types.DefaultTypeAdapter.NativeToValue(result)
	}
}
