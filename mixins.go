package observable

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/goliatone/go-observable/layering"
	"github.com/goliatone/go-observable/pkg/kpath"
)

// OwnLayerName names the layer holding the instance's own data in a trace.
const OwnLayerName = "data"

// DataLayer is a named source of initial data (a mixin or behaviour) merged
// beneath the instance's own data. Higher priority values win.
type DataLayer struct {
	Name       string
	Label      string
	Priority   int
	Data       map[string]any
	SnapshotID string
}

// LayerOption configures optional metadata for a layer.
type LayerOption func(*DataLayer)

// WithLayerLabel sets a human-friendly label on the layer.
func WithLayerLabel(label string) LayerOption {
	return func(layer *DataLayer) {
		layer.Label = label
	}
}

// WithSnapshotID sets the snapshot identifier used for auditing.
func WithSnapshotID(id string) LayerOption {
	return func(layer *DataLayer) {
		layer.SnapshotID = id
	}
}

// NewDataLayer builds a layer holding a deep copy of data.
func NewDataLayer(name string, priority int, data map[string]any, opts ...LayerOption) DataLayer {
	layer := DataLayer{
		Name:     name,
		Priority: priority,
		Data:     layering.CloneMap(data),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&layer)
		}
	}
	return layer
}

func (l DataLayer) clone() DataLayer {
	l.Data = layering.CloneMap(l.Data)
	return l
}

var (
	// ErrLayerNameRequired indicates a layer without a name.
	ErrLayerNameRequired = errors.New("observable: layer name must be provided")
	// ErrDuplicateLayerName indicates two layers share a name.
	ErrDuplicateLayerName = errors.New("observable: layer names must be unique")
	// ErrPriorityOrder indicates two layers share a priority.
	ErrPriorityOrder = errors.New("observable: layer priorities must be strictly ordered")
)

// DataStack is an immutable set of layers ordered strongest first.
type DataStack struct {
	layers []DataLayer
}

// NewDataStack validates the layers and sorts them so the highest priority
// comes first. Layers are deep copied.
func NewDataStack(layers ...DataLayer) (*DataStack, error) {
	seen := make(map[string]struct{}, len(layers))
	copied := make([]DataLayer, len(layers))
	for i, layer := range layers {
		if layer.Name == "" {
			return nil, ErrLayerNameRequired
		}
		if _, ok := seen[layer.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLayerName, layer.Name)
		}
		seen[layer.Name] = struct{}{}
		copied[i] = layer.clone()
	}

	sort.Slice(copied, func(i, j int) bool {
		if copied[i].Priority == copied[j].Priority {
			return copied[i].Name < copied[j].Name
		}
		return copied[i].Priority > copied[j].Priority
	})
	for i := 1; i < len(copied); i++ {
		if copied[i-1].Priority <= copied[i].Priority {
			return nil, fmt.Errorf("%w: %d", ErrPriorityOrder, copied[i].Priority)
		}
	}
	return &DataStack{layers: copied}, nil
}

// Layers returns copies of the layers, strongest first.
func (s *DataStack) Layers() []DataLayer {
	if s == nil || len(s.layers) == 0 {
		return nil
	}
	out := make([]DataLayer, len(s.layers))
	for i := range s.layers {
		out[i] = s.layers[i].clone()
	}
	return out
}

// Len returns the number of layers.
func (s *DataStack) Len() int {
	if s == nil {
		return 0
	}
	return len(s.layers)
}

// Merge resolves the stack into a fresh data tree.
func (s *DataStack) Merge() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	snapshots := make([]map[string]any, len(s.layers))
	for i := range s.layers {
		snapshots[i] = s.layers[i].Data
	}
	return layering.MergeLayers(snapshots...)
}

// Trace reports what every layer holds at path, strongest first.
func (s *DataStack) Trace(path string) (Trace, error) {
	p, err := kpath.Parse(path)
	if err != nil {
		return Trace{}, err
	}
	trace := Trace{Path: path}
	if s == nil {
		return trace, nil
	}
	for _, layer := range s.layers {
		value, found := kpath.Lookup(layer.Data, p)
		trace.Layers = append(trace.Layers, Provenance{
			Layer:      layer.Name,
			Label:      layer.Label,
			Priority:   layer.Priority,
			SnapshotID: layer.SnapshotID,
			Value:      layering.Clone(value),
			Found:      found,
		})
	}
	return trace, nil
}

// buildData merges mixins beneath own. Without mixins own is used as is, so
// the caller's map stays the live root; with mixins the root is a fresh merge.
func buildData(own map[string]any, mixins []DataLayer) (map[string]any, *DataStack, error) {
	top := math.MinInt
	for _, layer := range mixins {
		if layer.Name == OwnLayerName {
			return nil, nil, fmt.Errorf("%w: %s is reserved", ErrDuplicateLayerName, OwnLayerName)
		}
		top = max(top, layer.Priority)
	}
	ownPriority := 0
	if len(mixins) > 0 {
		if top == math.MaxInt {
			return nil, nil, fmt.Errorf("%w: mixin priority must be below %d", ErrPriorityOrder, math.MaxInt)
		}
		ownPriority = top + 1
	}
	layers := append([]DataLayer{{Name: OwnLayerName, Priority: ownPriority, Data: own}}, mixins...)
	stack, err := NewDataStack(layers...)
	if err != nil {
		return nil, nil, err
	}
	if len(mixins) == 0 {
		return own, stack, nil
	}
	return stack.Merge(), stack, nil
}

const (
	// Recommended mixin priorities. Higher numbers win; the instance's own
	// data always wins over every mixin.
	PriorityPlugin   = 100
	PriorityBehavior = 200
	PriorityMixin    = 300
)

// OrderedMixins turns data maps into mixin layers named mixin0, mixin1, ...
// where a later map overrides an earlier one.
func OrderedMixins(data ...map[string]any) []DataLayer {
	layers := make([]DataLayer, len(data))
	for i, d := range data {
		layers[i] = NewDataLayer(fmt.Sprintf("mixin%d", i), PriorityMixin+i, d)
	}
	return layers
}
