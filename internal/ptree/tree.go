// Package ptree holds the configuration document shared between the
// management server and the pipeline engine.
package ptree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// ErrNotObject is returned when a document is not a JSON object.
var ErrNotObject = errors.New("configuration document must be a JSON object")

// Tree is an opaque hierarchical configuration document. The management
// server never interprets its contents.
type Tree map[string]any

// ParseTree decodes a JSON object. Numbers are kept as json.Number so that
// a round trip does not alter their text.
func ParseTree(data []byte) (Tree, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty configuration document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse configuration document: %w", err)
	}
	if dec.More() {
		return nil, errors.New("parse configuration document: trailing data")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Tree(obj), nil
}

// Marshal encodes the tree as indented JSON terminated by a newline.
// A nil tree encodes as an empty object.
func (t Tree) Marshal() ([]byte, error) {
	if t == nil {
		t = Tree{}
	}
	data, err := json.MarshalIndent(map[string]any(t), "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode configuration document: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	return Tree(cloneValue(map[string]any(t)).(map[string]any))
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case Tree:
		return cloneValue(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two trees are structurally equal.
func (t Tree) Equal(other Tree) bool {
	if len(t) == 0 && len(other) == 0 {
		return true
	}
	return reflect.DeepEqual(map[string]any(t), map[string]any(other))
}
