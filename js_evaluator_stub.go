//go:build !js_eval

package observable

// NewJSEvaluator returns nil without the js_eval build tag; instances then
// fall back to the expr evaluator.
func NewJSEvaluator(opts ...JSEvaluatorOption) Evaluator {
	_ = applyJSEvaluatorOptions(opts)
	return nil
}

func jsEvaluatorAvailable() bool {
	return false
}
