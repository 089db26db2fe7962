// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package client

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	gerrors "github.com/tochemey/etcdbridge/errors"
)

// Tree is a key space rendered as nested maps. Every key segment between
// two slashes is a level. A leaf is a string; an inner level is a Tree.
// When a key is both a leaf and the parent of other keys, its own value
// sits under the empty segment of its level.
type Tree map[string]any

// entry is one flattened key/value pair of a Tree
type entry struct {
	key   string
	value string
}

// insert stores value at the path made of the given segments
func (t Tree) insert(segments []string, value string) {
	head := segments[0]
	if len(segments) == 1 {
		if sub, ok := t[head].(Tree); ok {
			sub[""] = value
			return
		}
		t[head] = value
		return
	}

	sub, ok := t[head].(Tree)
	if !ok {
		sub = Tree{}
		if leaf, isLeaf := t[head].(string); isLeaf {
			sub[""] = leaf
		}
		t[head] = sub
	}
	sub.insert(segments[1:], value)
}

// flatten turns a tree into the etcd keys written under prefix. Segments
// are URL encoded so they can hold slashes. The entries are sorted by key.
func flatten(prefix string, tree map[string]any) ([]entry, error) {
	var entries []entry
	if err := flattenInto(prefix, tree, &entries); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})
	return entries, nil
}

func flattenInto(prefix string, tree map[string]any, entries *[]entry) error {
	for segment, value := range tree {
		key := prefix
		if segment != "" {
			key = prefix + "/" + url.QueryEscape(segment)
		}

		switch v := value.(type) {
		case string:
			*entries = append(*entries, entry{key: key, value: v})
		case []byte:
			*entries = append(*entries, entry{key: key, value: string(v)})
		case Tree:
			if err := flattenInto(key, v, entries); err != nil {
				return err
			}
		case map[string]any:
			if err := flattenInto(key, v, entries); err != nil {
				return err
			}
		default:
			return gerrors.NewEncodingError(fmt.Errorf("key=(%s) unsupported value type %T", key, value))
		}
	}
	return nil
}

// unflatten builds the tree of the keys found under prefix
func unflatten(prefix string, keys, values [][]byte) (Tree, error) {
	tree := Tree{}
	for i, raw := range keys {
		rest := strings.TrimPrefix(strings.TrimPrefix(string(raw), prefix), "/")
		parts := strings.Split(rest, "/")
		segments := make([]string, 0, len(parts))
		for _, part := range parts {
			segment, err := url.QueryUnescape(part)
			if err != nil {
				return nil, gerrors.NewEncodingError(fmt.Errorf("key=(%s) %w", raw, err))
			}
			segments = append(segments, segment)
		}
		tree.insert(segments, string(values[i]))
	}
	return tree, nil
}
