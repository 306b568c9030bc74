// Package kpath parses and prints the patch path grammar used by committed
// patch maps:
//
//	field ("." field | "[" index "]")*
//
// Examples:
//   - "a"        → field a of the root mapping
//   - "a.b[0]"   → element 0 of the sequence at a.b
//   - "b[1].b"   → field b of the mapping at element 1 of b
//
// Field names are emitted verbatim. Names containing '.', '[' or ']' cannot
// be represented and are rejected by Parse.
package kpath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax reports a malformed path string.
var ErrSyntax = errors.New("kpath: syntax error")

// Segment is one step of a path: either a mapping field or a sequence index.
type Segment struct {
	Field   string
	Index   int
	IsIndex bool
}

// FieldSegment returns a field segment.
func FieldSegment(name string) Segment {
	return Segment{Field: name}
}

// IndexSegment returns an index segment.
func IndexSegment(index int) Segment {
	return Segment{Index: index, IsIndex: true}
}

// String returns the segment as it appears inside a path, without the
// leading '.' separator for fields.
func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Field
}

// Path is a parsed path, root first.
type Path []Segment

// Parse parses s into a Path. The empty string parses to the root (nil) path.
func Parse(s string) (Path, error) {
	if s == "" {
		return nil, nil
	}
	var (
		res Path
		i   int
	)
	for i < len(s) {
		switch s[i] {
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated index in %q", ErrSyntax, s)
			}
			digits := s[i+1 : i+end]
			if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
				return nil, fmt.Errorf("%w: bad index %q in %q", ErrSyntax, digits, s)
			}
			n, err := strconv.Atoi(digits)
			if err != nil {
				return nil, fmt.Errorf("%w: bad index %q in %q: %w", ErrSyntax, digits, s, err)
			}
			res = append(res, IndexSegment(n))
			i += end + 1
		case '.':
			if len(res) == 0 {
				return nil, fmt.Errorf("%w: leading '.' in %q", ErrSyntax, s)
			}
			i++
			name, n := scanField(s[i:])
			if name == "" {
				return nil, fmt.Errorf("%w: empty field in %q", ErrSyntax, s)
			}
			res = append(res, FieldSegment(name))
			i += n
		case ']':
			return nil, fmt.Errorf("%w: unexpected ']' in %q", ErrSyntax, s)
		default:
			if len(res) != 0 {
				return nil, fmt.Errorf("%w: missing '.' before field in %q", ErrSyntax, s)
			}
			name, n := scanField(s[i:])
			res = append(res, FieldSegment(name))
			i += n
		}
	}
	return res, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func scanField(s string) (string, int) {
	n := strings.IndexAny(s, ".[]")
	if n < 0 {
		n = len(s)
	}
	return s[:n], n
}

// String prints p in path grammar.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if !seg.IsIndex && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// Join appends a field segment to an already printed parent path.
func Join(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}

// JoinIndex appends an index segment to an already printed parent path.
func JoinIndex(parent string, index int) string {
	return parent + "[" + strconv.Itoa(index) + "]"
}

// ValidField reports whether name can be printed as a single field segment.
func ValidField(name string) bool {
	return name != "" && !strings.ContainsAny(name, ".[]")
}

// HasPrefix reports whether prefix names p or one of its ancestors.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i := range prefix {
		if prefix[i] != p[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether a and b name the same node or one contains the
// other.
func Overlaps(a, b Path) bool {
	return a.HasPrefix(b) || b.HasPrefix(a)
}

// Pointer renders p as an RFC 6901 JSON pointer.
func (p Path) Pointer() string {
	var b strings.Builder
	for _, seg := range p {
		b.WriteByte('/')
		if seg.IsIndex {
			b.WriteString(strconv.Itoa(seg.Index))
			continue
		}
		b.WriteString(escapePointer(seg.Field))
	}
	return b.String()
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// Parent returns p without its last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Last returns the final segment of p.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}

// Lookup walks a plain tree of map[string]any and []any values along p.
func Lookup(root any, p Path) (any, bool) {
	cur := root
	for _, seg := range p {
		if seg.IsIndex {
			seq, ok := cur.([]any)
			if !ok || seg.Index < 0 || seg.Index >= len(seq) {
				return nil, false
			}
			cur = seq[seg.Index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := m[seg.Field]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
