package observable

import "time"

// FlushLogEvent describes one non-empty flush for logging.
type FlushLogEvent struct {
	InstanceID string
	FlushID    string
	Keys       []string
	Duration   time.Duration
	Err        error
}

// FlushLogger records flush events.
type FlushLogger interface {
	LogFlush(FlushLogEvent)
}

// FlushLoggerFunc adapts a function to FlushLogger.
type FlushLoggerFunc func(FlushLogEvent)

// LogFlush implements FlushLogger.
func (f FlushLoggerFunc) LogFlush(event FlushLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopFlushLogger struct{}

func (noopFlushLogger) LogFlush(FlushLogEvent) {}

// WithFlushLogger attaches a flush logger to the instance.
func WithFlushLogger(logger FlushLogger) Option {
	return func(cfg *instanceConfig) {
		cfg.flushLogger = logger
	}
}

// EvaluatorLogEvent describes a computed-field evaluation for logging.
type EvaluatorLogEvent struct {
	Engine     string
	Expr       string
	Field      string
	InstanceID string
	Duration   time.Duration
	Err        error
}

// EvaluatorLogger records evaluator events.
type EvaluatorLogger interface {
	LogEvaluation(EvaluatorLogEvent)
}

// EvaluatorLoggerFunc adapts a function to EvaluatorLogger.
type EvaluatorLoggerFunc func(EvaluatorLogEvent)

// LogEvaluation implements EvaluatorLogger.
func (f EvaluatorLoggerFunc) LogEvaluation(event EvaluatorLogEvent) {
	if f != nil {
		f(event)
	}
}

type noopEvaluatorLogger struct{}

func (noopEvaluatorLogger) LogEvaluation(EvaluatorLogEvent) {}

// WithEvaluatorLogger attaches an evaluator logger to the instance.
func WithEvaluatorLogger(logger EvaluatorLogger) Option {
	return func(cfg *instanceConfig) {
		cfg.evaluatorLogger = logger
	}
}
