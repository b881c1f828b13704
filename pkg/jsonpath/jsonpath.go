// Package jsonpath reads values out of decoded JSON trees using dotted,
// optionally indexed paths such as "choices[0].delta.content".
package jsonpath

import (
	"strconv"
	"strings"
)

type segmentKind int

const (
	segmentKey segmentKind = iota
	segmentIndex
)

type segment struct {
	kind  segmentKind
	key   string
	index int
}

// Parse splits a path string into lookup segments. Bracketed integers become
// index segments, everything else becomes key segments. Empty segments
// (doubled dots, stray brackets) are dropped.
func Parse(path string) []segment {
	normalized := strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(normalized, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if idx, err := strconv.Atoi(p); err == nil && idx >= 0 {
			segs = append(segs, segment{kind: segmentIndex, key: p, index: idx})
			continue
		}
		segs = append(segs, segment{kind: segmentKey, key: p})
	}
	return segs
}

// Extract walks tree following path. The second return is false whenever the
// walk fails: missing key, out-of-range index, non-numeric segment against an
// array, or any segment applied to a scalar. It never panics and never
// returns an error; callers treat a miss as "no value here".
func Extract(tree any, path string) (any, bool) {
	current := tree
	for _, seg := range Parse(path) {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg.key]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			if seg.kind != segmentIndex || seg.index >= len(node) {
				return nil, false
			}
			current = node[seg.index]
		default:
			return nil, false
		}
	}
	return current, true
}

// ExtractString is Extract narrowed to string values. Non-string hits count
// as misses.
func ExtractString(tree any, path string) (string, bool) {
	v, ok := Extract(tree, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
