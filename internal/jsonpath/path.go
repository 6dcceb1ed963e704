// Package jsonpath addresses locations inside decoded JSON trees.
//
// A path is a dot-separated list of identifiers, each optionally followed by
// one or more bracketed non-negative indices:
//
//	choices[0].message.content
//	data[0].b64_json
//	[0].generated_text
//
// Paths are parsed once into a list of tagged segments and then applied to
// trees of map[string]any and []any, the shapes produced by encoding/json.
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxIndex bounds the indices Set will materialize.
const MaxIndex = 4096

// SegmentKind tags a path segment.
type SegmentKind uint8

const (
	// FieldSegment selects a key of a map.
	FieldSegment SegmentKind = iota

	// IndexSegment selects an element of a list.
	IndexSegment
)

// Segment is one step of a path.
type Segment struct {
	Kind  SegmentKind
	Field string
	Index int
}

// Field returns a field segment.
func Field(name string) Segment { return Segment{Kind: FieldSegment, Field: name} }

// Index returns an index segment.
func Index(n int) Segment { return Segment{Kind: IndexSegment, Index: n} }

// Path is a parsed path expression. The zero Path addresses the root.
type Path []Segment

// SyntaxError reports a malformed path expression.
type SyntaxError struct {
	Expr   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jsonpath: %s at offset %d in %q", e.Msg, e.Offset, e.Expr)
}

// Parse parses expr into a Path. The empty expression yields an empty Path.
func Parse(expr string) (Path, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var p Path
	i := 0
	for {
		start := i
		for i < len(expr) && expr[i] != '.' && expr[i] != '[' && expr[i] != ']' {
			i++
		}
		name := expr[start:i]
		switch {
		case name != "":
			p = append(p, Field(name))
		case i < len(expr) && expr[i] == '[' && start == 0:
			// leading index addresses a top-level list
		default:
			return nil, &SyntaxError{Expr: expr, Offset: start, Msg: "empty field name"}
		}

		for i < len(expr) && expr[i] == '[' {
			i++
			digits := i
			for i < len(expr) && expr[i] >= '0' && expr[i] <= '9' {
				i++
			}
			if i == digits {
				return nil, &SyntaxError{Expr: expr, Offset: digits, Msg: "expected non-negative integer index"}
			}
			if i >= len(expr) || expr[i] != ']' {
				return nil, &SyntaxError{Expr: expr, Offset: i, Msg: "expected ']'"}
			}
			n, err := strconv.Atoi(expr[digits:i])
			if err != nil {
				return nil, &SyntaxError{Expr: expr, Offset: digits, Msg: "index out of range"}
			}
			p = append(p, Index(n))
			i++
		}

		if i == len(expr) {
			return p, nil
		}
		switch expr[i] {
		case '.':
			i++
			if i == len(expr) {
				return nil, &SyntaxError{Expr: expr, Offset: i, Msg: "trailing '.'"}
			}
		default:
			return nil, &SyntaxError{Expr: expr, Offset: i, Msg: fmt.Sprintf("unexpected %q", expr[i])}
		}
	}
}

// MustParse is like Parse but panics on error. Use it for constant paths.
func MustParse(expr string) Path {
	p, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path back to its textual form.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		switch seg.Kind {
		case FieldSegment:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Field)
		case IndexSegment:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// IsEmpty reports whether p addresses the root.
func (p Path) IsEmpty() bool { return len(p) == 0 }

// Get walks root along p. It reports false as soon as a segment cannot be
// resolved: a missing key, an index out of range, or a non-container value.
// A present JSON null yields (nil, true).
func (p Path) Get(root any) (any, bool) {
	cur := root
	for _, seg := range p {
		switch seg.Kind {
		case FieldSegment:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			v, ok := m[seg.Field]
			if !ok {
				return nil, false
			}
			cur = v
		case IndexSegment:
			l, ok := cur.([]any)
			if !ok || seg.Index >= len(l) {
				return nil, false
			}
			cur = l[seg.Index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetError reports that Set met a value that is not the container the path
// requires.
type SetError struct {
	Path  Path
	Depth int
	Found string
}

func (e *SetError) Error() string {
	at := e.Path[:e.Depth].String()
	if at == "" {
		at = "root"
	}
	return fmt.Sprintf("jsonpath: cannot set %q: %s holds %s", e.Path.String(), at, e.Found)
}

// Set stores value at p and returns the new root. Missing intermediate
// containers are created: maps for field segments, lists for index segments.
// Sibling keys and list elements are left untouched.
//
// Set mutates containers reachable from root. Callers sharing root with
// other goroutines must DeepCopy it first.
func (p Path) Set(root any, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	return p.setAt(root, 0, value)
}

func (p Path) setAt(node any, i int, value any) (any, error) {
	seg := p[i]
	last := i == len(p)-1

	switch seg.Kind {
	case FieldSegment:
		var m map[string]any
		switch n := node.(type) {
		case nil:
			m = make(map[string]any)
		case map[string]any:
			m = n
		default:
			return nil, &SetError{Path: p, Depth: i, Found: kindOf(node)}
		}
		if last {
			m[seg.Field] = value
			return m, nil
		}
		child, err := p.setAt(m[seg.Field], i+1, value)
		if err != nil {
			return nil, err
		}
		m[seg.Field] = child
		return m, nil

	case IndexSegment:
		if seg.Index > MaxIndex {
			return nil, &SetError{Path: p, Depth: i, Found: "an index above the materialization limit"}
		}
		var l []any
		switch n := node.(type) {
		case nil:
		case []any:
			l = n
		default:
			return nil, &SetError{Path: p, Depth: i, Found: kindOf(node)}
		}
		for len(l) <= seg.Index {
			l = append(l, nil)
		}
		if last {
			l[seg.Index] = value
			return l, nil
		}
		child, err := p.setAt(l[seg.Index], i+1, value)
		if err != nil {
			return nil, err
		}
		l[seg.Index] = child
		return l, nil
	}
	return nil, &SetError{Path: p, Depth: i, Found: "an unknown segment"}
}

// Lookup parses expr and resolves it against root. A malformed expression
// resolves to nothing.
func Lookup(root any, expr string) (any, bool) {
	p, err := Parse(expr)
	if err != nil {
		return nil, false
	}
	return p.Get(root)
}

// DeepCopy copies maps and lists recursively. Scalars are shared.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = DeepCopy(e)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = DeepCopy(e)
		}
		return l
	default:
		return v
	}
}

// IsScalar reports whether v is neither a map nor a list.
func IsScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case map[string]any:
		return "an object"
	case []any:
		return "a list"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return "a scalar"
	}
}
