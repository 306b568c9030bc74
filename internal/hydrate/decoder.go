// Package hydrate converts between typed Go values and the plain data trees
// (map[string]any and []any) an instance observes.
package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Context identifies the instance and path a payload belongs to.
type Context struct {
	InstanceID string
	Path       string
}

func (c Context) describe() string {
	if c.Path == "" {
		return fmt.Sprintf("instance %q", c.InstanceID)
	}
	return fmt.Sprintf("instance %q path %q", c.InstanceID, c.Path)
}

// PreHook lets callers mutate or normalise the payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook lets callers adjust or validate the decoded value.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the default JSON decoding when provided.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts data trees into typed values.
type Decoder[T any] struct {
	preHooks     []PreHook
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
	custom       CustomDecoder[T]
}

// WithPreHook applies hook prior to decoding.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithUseNumber enables json.Decoder.UseNumber during decoding.
func WithUseNumber[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(dec *json.Decoder) {
		dec.UseNumber()
	})
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return WithDecoderConfig[T](func(dec *json.Decoder) {
		dec.DisallowUnknownFields()
	})
}

// WithDecoderConfig allows callers to configure the json.Decoder directly.
func WithDecoderConfig[T any](configure func(*json.Decoder)) DecoderOption[T] {
	return func(d *Decoder[T]) {
		if configure != nil {
			d.configureDec = append(d.configureDec, configure)
		}
	}
}

// WithCustomDecoder replaces the default JSON decoding path.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T. The payload is copied first, so hooks may
// modify what they receive.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("hydrate: payload is nil for %s", ctx.describe())
	}

	current, err := roundTrip(payload)
	if err != nil {
		return zero, fmt.Errorf("hydrate: copy payload for %s: %w", ctx.describe(), err)
	}
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: pre-hook for %s failed: %w", ctx.describe(), err)
		}
		if next != nil {
			current = next
		}
	}

	var result T
	if d.custom != nil {
		result, err = d.custom(ctx, current)
		if err != nil {
			return zero, fmt.Errorf("hydrate: custom decoder for %s failed: %w", ctx.describe(), err)
		}
	} else if err := d.decodeJSON(current, &result); err != nil {
		return zero, fmt.Errorf("hydrate: decode %s: %w", ctx.describe(), err)
	}

	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for %s failed: %w", ctx.describe(), err)
		}
	}
	return result, nil
}

func (d *Decoder[T]) decodeJSON(payload map[string]any, out *T) error {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(buffer))
	for _, configure := range d.configureDec {
		configure(decoder)
	}
	return decoder.Decode(out)
}

// Normalize turns initial instance data into a data tree. A map[string]any is
// returned as is and nil becomes an empty map; anything else is encoded to
// JSON and must produce an object.
func Normalize(data any) (map[string]any, error) {
	switch typed := data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		if typed == nil {
			return map[string]any{}, nil
		}
		return typed, nil
	}
	buffer, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("hydrate: encode %T: %w", data, err)
	}
	var out map[string]any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, fmt.Errorf("hydrate: %T does not encode to an object: %w", data, err)
	}
	if out == nil {
		return nil, fmt.Errorf("hydrate: %T encodes to null", data)
	}
	return out, nil
}

func roundTrip(payload map[string]any) (map[string]any, error) {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, err
	}
	return out, nil
}
