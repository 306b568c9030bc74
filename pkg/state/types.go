package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	observable "github.com/goliatone/go-observable"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

// ErrNotFound indicates a Ref with no stored snapshot.
var ErrNotFound = errors.New("state: snapshot not found")

// Kind tells instance snapshots and mixin layers apart.
type Kind string

const (
	KindInstance Kind = "instance"
	KindMixin    Kind = "mixin"
)

// Ref identifies one persisted snapshot.
type Ref struct {
	Kind Kind
	Name string
}

// InstanceRef returns the Ref of an instance snapshot.
func InstanceRef(id string) Ref { return Ref{Kind: KindInstance, Name: id} }

// MixinRef returns the Ref of a mixin layer.
func MixinRef(name string) Ref { return Ref{Kind: KindMixin, Name: name} }

// Meta is storage-owned metadata used for trace/audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single reference.
type Store interface {
	Load(ctx context.Context, ref Ref) (snapshot map[string]any, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot map[string]any, meta Meta) (Meta, error)
}

func (r Ref) Identifier() (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("state: name is required for %q ref", r.Kind)
	}
	switch r.Kind {
	case KindInstance, KindMixin:
		return fmt.Sprintf("%s/%s", r.Kind, r.Name), nil
	default:
		return "", fmt.Errorf("unsupported ref kind %q", r.Kind)
	}
}

// Mixin names a stored layer and the priority it is merged at.
type Mixin struct {
	Name     string
	Priority int
	Label    string
}

// Resolver loads stored layers and instance data, and saves instance data back.
type Resolver struct {
	Store Store
	// Now defaults to time.Now.
	Now func() time.Time
}

// Mixins loads the named layers. Layers with no stored snapshot are skipped.
func (r Resolver) Mixins(ctx context.Context, mixins ...Mixin) ([]observable.DataLayer, error) {
	if r.Store == nil {
		return nil, fmt.Errorf("state: store is required")
	}
	layers := make([]observable.DataLayer, 0, len(mixins))
	for _, m := range mixins {
		snapshot, meta, ok, err := r.Store.Load(ctx, MixinRef(m.Name))
		if err != nil {
			return nil, fmt.Errorf("state: load mixin %q: %w", m.Name, err)
		}
		if !ok {
			continue
		}
		opts := []observable.LayerOption{observable.WithSnapshotID(meta.SnapshotID)}
		if m.Label != "" {
			opts = append(opts, observable.WithLayerLabel(m.Label))
		}
		layers = append(layers, observable.NewDataLayer(m.Name, m.Priority, snapshot, opts...))
	}
	return layers, nil
}

// Restore builds an instance from the stored snapshot of id, merged over the
// given mixins. The instance keeps id as its identifier.
func (r Resolver) Restore(ctx context.Context, id string, sink observable.CommitSink, mixins []Mixin, opts ...observable.Option) (*observable.Instance, Meta, error) {
	if r.Store == nil {
		return nil, Meta{}, fmt.Errorf("state: store is required")
	}
	snapshot, meta, ok, err := r.Store.Load(ctx, InstanceRef(id))
	if err != nil {
		return nil, Meta{}, fmt.Errorf("state: load instance %q: %w", id, err)
	}
	if !ok {
		return nil, Meta{}, fmt.Errorf("%w: instance %q", ErrNotFound, id)
	}
	layers, err := r.Mixins(ctx, mixins...)
	if err != nil {
		return nil, meta, err
	}

	all := append([]observable.Option{observable.WithInstanceID(id)}, opts...)
	if len(layers) > 0 {
		all = append(all, observable.WithMixins(layers...))
	}
	inst, err := observable.New(snapshot, sink, all...)
	if err != nil {
		return nil, meta, fmt.Errorf("state: restore instance %q: %w", id, err)
	}
	return inst, meta, nil
}

// Persist saves a snapshot of inst. A non-empty meta.ETag must match the
// stored one. Each save gets a fresh snapshot id and etag unless meta sets
// them.
func (r Resolver) Persist(ctx context.Context, inst *observable.Instance, meta Meta) (Meta, error) {
	if r.Store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	if inst == nil {
		return Meta{}, fmt.Errorf("state: instance is required")
	}
	ref := InstanceRef(inst.ID())

	_, loadedMeta, ok, err := r.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, fmt.Errorf("state: load instance %q: %w", ref.Name, err)
	}
	if !ok {
		loadedMeta = Meta{}
	}
	if meta.ETag != "" && loadedMeta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	saveMeta := mergeMeta(loadedMeta, Meta{
		SnapshotID: uuid.NewString(),
		ETag:       uuid.NewString(),
		UpdatedAt:  r.now(),
	})
	saveMeta = mergeMeta(saveMeta, Meta{SnapshotID: meta.SnapshotID, Extra: meta.Extra})

	savedMeta, err := r.Store.Save(ctx, ref, inst.Snapshot(), saveMeta)
	if err != nil {
		return loadedMeta, fmt.Errorf("state: save instance %q: %w", ref.Name, err)
	}
	return savedMeta, nil
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}
