package observable

import (
	"fmt"
	"maps"
	"slices"

	"github.com/goliatone/go-observable/pkg/kpath"
)

// FieldDescriptor describes a leaf path of the data and its Go type.
type FieldDescriptor struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// Describe flattens the current data into descriptors, one per leaf, using
// patch path syntax. Empty mappings and sequences are leaves.
func (i *Instance) Describe() []FieldDescriptor {
	return Describe(i.root.raw)
}

// Describe flattens a plain data tree into field descriptors sorted by
// traversal order: mapping keys alphabetically, sequence elements by index.
func Describe(value any) []FieldDescriptor {
	descriptors := describe(value, "")
	if descriptors == nil {
		return []FieldDescriptor{}
	}
	return descriptors
}

func describe(value any, prefix string) []FieldDescriptor {
	switch typed := value.(type) {
	case map[string]any:
		if len(typed) == 0 {
			if prefix == "" {
				return nil
			}
			return []FieldDescriptor{{Path: prefix, Type: "map[string]any"}}
		}
		var fields []FieldDescriptor
		for _, key := range slices.Sorted(maps.Keys(typed)) {
			fields = append(fields, describe(typed[key], kpath.Join(prefix, key))...)
		}
		return fields
	case []any:
		if len(typed) == 0 {
			return []FieldDescriptor{{Path: prefix, Type: "[]any"}}
		}
		var fields []FieldDescriptor
		for idx, item := range typed {
			fields = append(fields, describe(item, kpath.JoinIndex(prefix, idx))...)
		}
		return fields
	default:
		if prefix == "" {
			return nil
		}
		return []FieldDescriptor{{Path: prefix, Type: typeName(typed)}}
	}
}

func typeName(value any) string {
	if value == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", value)
}
