package observable

import (
	"errors"
	"fmt"
)

var (
	// ErrAliasedValue indicates a raw mapping or sequence was attached at a
	// second position of the same data tree.
	ErrAliasedValue = errors.New("observable: value already attached at another path")
	// ErrDetached is the panic value raised when a node that is no longer part
	// of its instance's tree is mutated.
	ErrDetached = errors.New("observable: node is detached from its data tree")
	// ErrIndexOutOfRange indicates a negative or otherwise unusable index.
	ErrIndexOutOfRange = errors.New("observable: index out of range")
	// ErrReadOnlyField indicates a write to a computed field.
	ErrReadOnlyField = errors.New("observable: field is read only")
	// ErrInvalidField indicates a field name that cannot be expressed in the
	// patch path grammar.
	ErrInvalidField = errors.New("observable: invalid field name")
	// ErrNoDispatcher indicates Instance.Dispatch was used with a deferrer that
	// cannot run triggers.
	ErrNoDispatcher = errors.New("observable: deferrer does not support dispatch")
	// ErrInstanceTornDown indicates an operation on an instance after Teardown.
	ErrInstanceTornDown = errors.New("observable: instance torn down")
	// ErrNilSink indicates New was called without a commit sink.
	ErrNilSink = errors.New("observable: commit sink is required")
	// ErrLoopStopped indicates an EventLoop is no longer accepting triggers.
	ErrLoopStopped = errors.New("observable: event loop stopped")
)

// AliasError reports the path at which an already attached raw value was
// attached a second time.
type AliasError struct {
	Path      string
	FirstPath string
}

func (e *AliasError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("observable: value at %s already attached at %s", describePath(e.Path), describePath(e.FirstPath))
}

// Unwrap makes AliasError match ErrAliasedValue.
func (e *AliasError) Unwrap() error {
	return ErrAliasedValue
}

// CommitError wraps a failure returned by the commit sink together with the
// flush it belonged to.
type CommitError struct {
	InstanceID string
	FlushID    string
	Keys       []string
	Err        error
}

func (e *CommitError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("observable: commit %s for instance %s (%d keys): %v", e.FlushID, e.InstanceID, len(e.Keys), e.Err)
}

func (e *CommitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func describePath(path string) string {
	if path == "" {
		return "<root>"
	}
	return fmt.Sprintf("%q", path)
}
