// Package graph converts entity object graphs, which may be cyclic through
// bidirectional navigations, into a tree of nodes and back.
//
// Every instance is emitted in full the first time it is reached and assigned
// an identity token ($id); every later occurrence in the same pass becomes a
// reference node ($ref). Tokens start at 1 and are scoped to one pass.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Node is either a full entity body or a reference to an earlier body
type Node struct {
	ID       int            `json:"$id,omitempty"`
	Ref      int            `json:"$ref,omitempty"`
	Type     string         `json:"$type,omitempty"`
	State    string         `json:"$state,omitempty"`
	Values   map[string]any `json:"values,omitempty"`
	Original map[string]any `json:"original,omitempty"`
	Links    []Link         `json:"links,omitempty"`

	// order lists property names in declaration order for encoding
	order []string
}

// MarshalJSON writes values and original in property declaration order
func (n *Node) MarshalJSON() ([]byte, error) {
	type plain Node
	out := struct {
		*plain
		Values   *orderedValues `json:"values,omitempty"`
		Original *orderedValues `json:"original,omitempty"`
		Links    []Link         `json:"links,omitempty"`
	}{plain: (*plain)(n), Links: n.Links}
	if len(n.Values) > 0 {
		out.Values = &orderedValues{order: n.order, values: n.Values}
	}
	if len(n.Original) > 0 {
		out.Original = &orderedValues{order: n.order, values: n.Original}
	}
	return json.Marshal(out)
}

// orderedValues encodes a property map with declared names first and any
// others after them, sorted
type orderedValues struct {
	order  []string
	values map[string]any
}

func (o *orderedValues) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, len(o.values))
	seen := make(map[string]bool, len(o.order))
	for _, name := range o.order {
		if _, ok := o.values[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	var rest []string
	for name := range o.values {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(o.values[name])
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", name, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Link carries the encoded related nodes of one loaded navigation
type Link struct {
	Name  string  `json:"name"`
	Nodes []*Node `json:"nodes"`
}

// IsReference returns true for a reference node
func (n *Node) IsReference() bool {
	return n.Ref != 0
}

// Count returns the number of nodes in the tree rooted at n, references included
func (n *Node) Count() int {
	total := 1
	for _, l := range n.Links {
		for _, c := range l.Nodes {
			total += c.Count()
		}
	}
	return total
}

// Unmarshal parses a JSON node array keeping numbers exact
func Unmarshal(data []byte) ([]*Node, error) {
	var nodes []*Node
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&nodes); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return nodes, nil
}
