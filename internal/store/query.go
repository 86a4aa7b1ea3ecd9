package store

import (
	"reflect"
	"sort"
	"strings"
)

// Apply evaluates q against docs in memory: filter, order, limit.
func Apply(q Query, docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if Matches(q.Filters, doc) {
			out = append(out, doc)
		}
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c, ok := Compare(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if !ok {
				return false
			}
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Matches reports whether doc satisfies every filter. A missing field
// never matches.
func Matches(filters []Filter, doc Document) bool {
	for _, f := range filters {
		v, ok := doc.Data[f.Field]
		if !ok {
			return false
		}
		c, comparable := Compare(v, f.Value)
		if !comparable {
			return false
		}
		switch f.Op {
		case OpEq:
			if c != 0 {
				return false
			}
		case OpGt:
			if c <= 0 {
				return false
			}
		case OpGte:
			if c < 0 {
				return false
			}
		case OpLt:
			if c >= 0 {
				return false
			}
		case OpLte:
			if c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Compare orders two scalar values. Numbers compare numerically whatever
// their Go type, so JSON-decoded float64 meets int64 filter values.
func Compare(a, b any) (int, bool) {
	if fa, ok := Number(a); ok {
		fb, ok := Number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := toString(b)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// Number widens any Go numeric type to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}

// Diff computes the changes that turn prev into next, keyed by id.
// Added and modified changes follow next's order; removals come last.
func Diff(prev, next []Document) []Change {
	before := make(map[string]Document, len(prev))
	for _, doc := range prev {
		before[doc.ID] = doc
	}
	var changes []Change
	seen := make(map[string]struct{}, len(next))
	for _, doc := range next {
		seen[doc.ID] = struct{}{}
		old, ok := before[doc.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Type: ChangeAdded, Doc: doc})
		case !reflect.DeepEqual(old.Data, doc.Data):
			changes = append(changes, Change{Type: ChangeModified, Doc: doc})
		}
	}
	for _, doc := range prev {
		if _, ok := seen[doc.ID]; !ok {
			changes = append(changes, Change{Type: ChangeRemoved, Doc: doc})
		}
	}
	return changes
}

// Merge returns a copy of data with fields applied on top.
func Merge(data, fields map[string]any) map[string]any {
	out := make(map[string]any, len(data)+len(fields))
	for k, v := range data {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
