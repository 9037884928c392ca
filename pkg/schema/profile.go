// Package schema validates and evolves incoming batch schemas against a
// dataset's versioned schema profile.
package schema

import (
	"fmt"
	"sort"
	"time"
)

// Type is the semantic column type.
type Type string

const (
	TypeString    Type = "string"
	TypeInt       Type = "int"
	TypeFloat     Type = "float"
	TypeDecimal   Type = "decimal"
	TypeBool      Type = "bool"
	TypeTimestamp Type = "timestamp"
	TypeDate      Type = "date"
)

// widensTo reports whether a column of type t can evolve to target without
// losing information. Narrowing changes are never allowed.
func (t Type) widensTo(target Type) bool {
	if t == target {
		return true
	}
	switch t {
	case TypeInt:
		return target == TypeFloat || target == TypeDecimal || target == TypeString
	case TypeFloat:
		return target == TypeDecimal || target == TypeString
	case TypeDecimal, TypeBool, TypeTimestamp, TypeDate:
		return target == TypeString
	default:
		return false
	}
}

// Column describes one column of a schema profile.
type Column struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Profile is the versioned schema for a dataset. Versions are monotonic:
// every accepted evolution bumps Version by one.
type Profile struct {
	Version int      `json:"version"`
	Columns []Column `json:"columns"`
}

// Column returns the named column, if present.
func (p *Profile) Column(name string) (Column, bool) {
	for _, c := range p.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Clone returns a deep copy.
func (p *Profile) Clone() Profile {
	cols := make([]Column, len(p.Columns))
	copy(cols, p.Columns)
	return Profile{Version: p.Version, Columns: cols}
}

// Row is one typed record. Values are nil, string, int64, float64, bool,
// or time.Time after reconciliation.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// InferProfile bootstraps a version-1 profile from the first batch of a
// dataset that has no declared schema yet. All columns are nullable.
func InferProfile(rows []Row) Profile {
	seen := map[string]Type{}
	var order []string
	for _, row := range rows {
		for _, name := range sortedKeys(row) {
			t := inferType(row[name])
			prev, ok := seen[name]
			if !ok {
				seen[name] = t
				order = append(order, name)
				continue
			}
			if prev != t && prev.widensTo(t) {
				seen[name] = t
			}
		}
	}
	cols := make([]Column, 0, len(order))
	for _, name := range order {
		cols = append(cols, Column{Name: name, Type: seen[name], Nullable: true})
	}
	return Profile{Version: 1, Columns: cols}
}

func inferType(v any) Type {
	switch val := v.(type) {
	case nil:
		return TypeString
	case bool:
		return TypeBool
	case int, int32, int64:
		return TypeInt
	case float64, float32:
		return TypeFloat
	case time.Time:
		return TypeTimestamp
	case string:
		if _, err := parseTimestamp(val); err == nil {
			return TypeTimestamp
		}
		return TypeString
	default:
		return TypeString
	}
}

func sortedKeys(r Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SchemaViolationError reports a per-row schema failure. It is recoverable
// under the lenient/auto policies or ErrorPolicy quarantine; otherwise it
// is fatal to the partition.
type SchemaViolationError struct {
	Column string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("schema violation on column %q: %s", e.Column, e.Reason)
}
