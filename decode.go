package observable

import (
	"github.com/goliatone/go-observable/internal/hydrate"
)

// DecodeOption configures DecodeData.
type DecodeOption[T any] = hydrate.DecoderOption[T]

// DecodeUseNumber decodes numbers as json.Number.
func DecodeUseNumber[T any]() DecodeOption[T] {
	return hydrate.WithUseNumber[T]()
}

// DecodeStrict rejects data fields that T does not declare.
func DecodeStrict[T any]() DecodeOption[T] {
	return hydrate.WithDisallowUnknownFields[T]()
}

// DecodeValidate runs validate on the decoded value.
func DecodeValidate[T any](validate func(*T) error) DecodeOption[T] {
	return hydrate.WithPostHook[T](func(_ hydrate.Context, value *T) error {
		if validate == nil {
			return nil
		}
		return validate(value)
	})
}

// DecodeData decodes a copy of the instance's current data into T.
func DecodeData[T any](inst *Instance, opts ...DecodeOption[T]) (T, error) {
	ctx := hydrate.Context{InstanceID: inst.id}
	return hydrate.NewDecoder[T](opts...).Decode(ctx, inst.root.raw)
}
