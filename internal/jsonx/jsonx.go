// Package jsonx provides deep-search helpers over raw JSON payloads. The
// remote nests timeline instructions at varying depths, so lookups walk the
// whole object graph instead of fixed paths.
package jsonx

import "github.com/tidwall/gjson"

// FindKey returns the value of the first occurrence of key anywhere in the
// object graph, depth-first in document order.
func FindKey(body []byte, key string) gjson.Result {
	return findKey(gjson.ParseBytes(body), key)
}

func findKey(node gjson.Result, key string) gjson.Result {
	if node.IsObject() {
		if v := node.Get(key); v.Exists() {
			return v
		}
	}
	var found gjson.Result
	node.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() && !value.IsArray() {
			return true
		}
		if v := findKey(value, key); v.Exists() {
			found = v
			return false
		}
		return true
	})
	return found
}

// FindObject returns the first object in the graph for which match returns
// true, walking depth-first.
func FindObject(body []byte, match func(gjson.Result) bool) gjson.Result {
	return findObject(gjson.ParseBytes(body), match)
}

func findObject(node gjson.Result, match func(gjson.Result) bool) gjson.Result {
	if node.IsObject() && match(node) {
		return node
	}
	var found gjson.Result
	node.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() && !value.IsArray() {
			return true
		}
		if v := findObject(value, match); v.Exists() {
			found = v
			return false
		}
		return true
	})
	return found
}

// Cursor finds the pagination cursor whose cursorType matches, returning its
// value or "" when the payload carries no such cursor.
func Cursor(body []byte, cursorType string) string {
	obj := FindObject(body, func(o gjson.Result) bool {
		return o.Get("cursorType").String() == cursorType
	})
	if !obj.Exists() {
		return ""
	}
	return obj.Get("value").String()
}
