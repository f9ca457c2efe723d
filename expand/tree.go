// Package expand implements query-driven resource expansion and field
// selection for HTTP responses: expand/select query strings are parsed into
// trees, sub-resources are populated by registered expanders, and the
// result is masked down to the selected fields.
package expand

import "strings"

// Wildcard selects every field at its tree level.
const Wildcard = "*"

// Tree is a recursive mapping of field names to either a boolean (leaf:
// include/exclude) or a nested Tree. Key insertion order is preserved so
// expansion runs in the order the client wrote the paths.
type Tree struct {
	keys []string
	vals map[string]any // bool or *Tree
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{vals: make(map[string]any)}
}

// Parse builds a tree from a comma-separated list of dotted paths.
//
// A leading "-" on a token excludes the leaf; "*" is an ordinary key with
// wildcard meaning to consumers. Conflicting tokens resolve last-write-wins.
//
//	Parse("instructor,parent.instructor,-description")
func Parse(spec string) *Tree {
	tree := NewTree()
	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		value := true
		if strings.HasPrefix(token, "-") {
			value = false
			token = token[1:]
			if token == "" {
				continue
			}
		}

		node := tree
		parts := strings.Split(token, ".")
		for _, part := range parts[:len(parts)-1] {
			node = node.descend(part)
		}
		node.set(parts[len(parts)-1], value)
	}
	return tree
}

// descend returns the subtree under key, converting a leaf into a subtree
// when needed.
func (t *Tree) descend(key string) *Tree {
	if sub, ok := t.vals[key].(*Tree); ok {
		return sub
	}
	sub := NewTree()
	t.set(key, sub)
	return sub
}

func (t *Tree) set(key string, value any) {
	if _, ok := t.vals[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.vals[key] = value
}

// Keys returns the field names in insertion order.
func (t *Tree) Keys() []string {
	return t.keys
}

// IsEmpty reports whether the tree has no entries.
func (t *Tree) IsEmpty() bool {
	return t == nil || len(t.keys) == 0
}

// Enabled reports whether a key is included: explicitly true, or carrying
// a subtree.
func (t *Tree) Enabled(key string) bool {
	switch v := t.vals[key].(type) {
	case bool:
		return v
	case *Tree:
		return true
	}
	return false
}

// Excluded reports whether a key was explicitly negated.
func (t *Tree) Excluded(key string) bool {
	v, ok := t.vals[key].(bool)
	return ok && !v
}

// Sub returns the subtree under key, or nil for leaves and absent keys.
func (t *Tree) Sub(key string) *Tree {
	sub, _ := t.vals[key].(*Tree)
	return sub
}

// HasWildcard reports whether the tree includes "*" at this level.
func (t *Tree) HasWildcard() bool {
	return t != nil && t.Enabled(Wildcard)
}
