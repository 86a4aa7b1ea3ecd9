package pgstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"sessiontrack/internal/store"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter")

	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// compile turns q into a SELECT over the documents table. Equality uses
// JSONB containment so it can hit the GIN index; range filters are
// guarded by jsonb_typeof so mismatched types never match, as in
// store.Matches.
func compile(q store.Query) (string, []any, error) {
	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString(`SELECT id, data FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return "", nil, fmt.Errorf("%w: field %q", ErrUnsupportedFilter, f.Field)
		}
		cond, arg, err := condition(f, len(args)+1)
		if err != nil {
			return "", nil, err
		}
		args = append(args, arg)
		b.WriteString(" AND ")
		b.WriteString(cond)
	}

	if q.OrderBy != "" {
		if !fieldPattern.MatchString(q.OrderBy) {
			return "", nil, fmt.Errorf("%w: order field %q", ErrUnsupportedFilter, q.OrderBy)
		}
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY data->'%s' %s NULLS LAST, seq", q.OrderBy, dir)
	} else {
		b.WriteString(" ORDER BY seq")
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args, nil
}

func condition(f store.Filter, n int) (string, any, error) {
	if f.Op == store.OpEq {
		if !scalar(f.Value) {
			return "", nil, fmt.Errorf("%w: %s == %T", ErrUnsupportedFilter, f.Field, f.Value)
		}
		doc, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("data @> $%d::jsonb", n), string(doc), nil
	}

	op, ok := rangeOps[f.Op]
	if !ok {
		return "", nil, fmt.Errorf("%w: operator %q", ErrUnsupportedFilter, f.Op)
	}
	if num, ok := store.Number(f.Value); ok {
		return fmt.Sprintf(
			"(CASE WHEN jsonb_typeof(data->'%[1]s') = 'number' THEN (data->>'%[1]s')::numeric %[2]s $%[3]d ELSE FALSE END)",
			f.Field, op, n), num, nil
	}
	if s, ok := stringValue(f.Value); ok {
		return fmt.Sprintf(
			`(CASE WHEN jsonb_typeof(data->'%[1]s') = 'string' THEN (data->>'%[1]s') COLLATE "C" %[2]s $%[3]d ELSE FALSE END)`,
			f.Field, op, n), s, nil
	}
	return "", nil, fmt.Errorf("%w: %s %s %T", ErrUnsupportedFilter, f.Field, f.Op, f.Value)
}

var rangeOps = map[store.Op]string{
	store.OpGt:  ">",
	store.OpGte: ">=",
	store.OpLt:  "<",
	store.OpLte: "<=",
}

func scalar(v any) bool {
	if _, ok := store.Number(v); ok {
		return true
	}
	if _, ok := v.(bool); ok {
		return true
	}
	_, ok := stringValue(v)
	return ok
}

func stringValue(v any) (string, bool) {
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String(), true
	}
	return "", false
}
