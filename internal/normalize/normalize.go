// Package normalize holds canonicalisation helpers shared by stores and
// handlers.
package normalize

import (
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Email returns a normalized form of an email address suitable for
// storage and comparisons: trimmed and lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// UniqueIDs removes duplicate ids while keeping first-seen order.
func UniqueIDs(ids ...bson.ObjectID) []bson.ObjectID {
	seen := make(map[bson.ObjectID]struct{}, len(ids))
	out := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// PairKey is an order-independent key for an unordered pair of ids.
func PairKey(a, b bson.ObjectID) string {
	x, y := a.Hex(), b.Hex()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
