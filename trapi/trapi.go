// Package trapi provides access to the parts of a decoded TRAPI message the
// annotator touches: the knowledge-graph node collection and node attribute
// lists.
//
// Messages are handled as the generic map[string]any produced by
// encoding/json so that every field the annotator does not know about is
// passed through untouched.
package trapi

import (
	"errors"
	"fmt"
	"strings"
)

// NodesPath is the dotted path of the node collection inside a request body.
const NodesPath = "message.knowledge_graph.nodes"

// AttributeTypeID tags attribute entries written by the annotator.
const AttributeTypeID = "biothings_annnotations"

// ErrInvalidMessage indicates the message does not have the expected shape.
var ErrInvalidMessage = errors.New("invalid TRAPI message")

// Attribute is a node attribute entry carrying one batch of annotations.
type Attribute struct {
	AttributeTypeID string `json:"attribute_type_id"`
	Value           any    `json:"value"`
}

// NewAttribute wraps value in an annotator attribute entry.
func NewAttribute(value any) Attribute {
	return Attribute{AttributeTypeID: AttributeTypeID, Value: value}
}

// GetPath walks a dotted path through nested maps.
// It returns false when a segment is missing or an intermediate value is not a map.
func GetPath(m map[string]any, path string) (any, bool) {
	if m == nil {
		return nil, false
	}

	var cur any = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Nodes returns the node collection of message, keyed by node id.
// The returned map is the one inside message; writes to it are visible to the caller.
func Nodes(message map[string]any) (map[string]any, error) {
	v, ok := GetPath(message, NodesPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidMessage, NodesPath)
	}
	nodes, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, not an object", ErrInvalidMessage, NodesPath, v)
	}
	return nodes, nil
}

// AppendAttribute pushes attr onto the existing attributes list of the node.
// The node must already hold an "attributes" list.
func AppendAttribute(nodes map[string]any, id string, attr Attribute) error {
	node, list, err := attributes(nodes, id)
	if err != nil {
		return err
	}
	node["attributes"] = append(list, attr)
	return nil
}

// CheckAppendable returns the error AppendAttribute would return for id,
// without modifying the node.
func CheckAppendable(nodes map[string]any, id string) error {
	_, _, err := attributes(nodes, id)
	return err
}

func attributes(nodes map[string]any, id string) (map[string]any, []any, error) {
	node, err := node(nodes, id)
	if err != nil {
		return nil, nil, err
	}

	existing, ok := node["attributes"]
	if !ok || existing == nil {
		return nil, nil, fmt.Errorf("%w: node %s has no attributes list to append to", ErrInvalidMessage, id)
	}
	list, ok := existing.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("%w: node %s attributes is %T, not a list", ErrInvalidMessage, id, existing)
	}
	return node, list, nil
}

// CheckReplaceable returns the error ReplaceAttributes would return for id,
// without modifying the node.
func CheckReplaceable(nodes map[string]any, id string) error {
	_, err := node(nodes, id)
	return err
}

// ReplaceAttributes sets the node's attributes to exactly attr.
func ReplaceAttributes(nodes map[string]any, id string, attr Attribute) error {
	node, err := node(nodes, id)
	if err != nil {
		return err
	}
	node["attributes"] = []any{attr}
	return nil
}

func node(nodes map[string]any, id string) (map[string]any, error) {
	v, ok := nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: node %s not found", ErrInvalidMessage, id)
	}
	n, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: node %s is %T, not an object", ErrInvalidMessage, id, v)
	}
	return n, nil
}

// CountAttributes returns how many annotator entries the node carries.
// Entries decoded from JSON and entries written by this package are both counted.
func CountAttributes(node map[string]any) int {
	list, _ := node["attributes"].([]any)
	n := 0
	for _, entry := range list {
		switch e := entry.(type) {
		case Attribute:
			if e.AttributeTypeID == AttributeTypeID {
				n++
			}
		case map[string]any:
			if e["attribute_type_id"] == AttributeTypeID {
				n++
			}
		}
	}
	return n
}
