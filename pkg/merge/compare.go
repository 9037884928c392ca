package merge

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tonysebion/bronze-foundry/pkg/schema"
)

// canonicalValue renders a reconciled value in a stable textual form, used
// for sorting fallbacks, key identity, and attribute hashing. Reruns over
// identical input must produce identical encodings.
func canonicalValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "\x00"
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// compareValues orders two reconciled values. Numeric kinds compare
// numerically, timestamps chronologically, everything else by canonical
// text.
func compareValues(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt)
		}
	}
	return strings.Compare(canonicalValue(a), canonicalValue(b))
}

func asFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case int:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// keyOf builds the business key identity of a row.
func keyOf(row schema.Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = canonicalValue(row[k])
	}
	return strings.Join(parts, "\x1f")
}

// sortByKeyThenOrder stable-sorts rows by (business keys, order column) so
// the reduction is deterministic regardless of input ordering. Rows with
// equal order values keep their relative input order; the reducer keeps
// the last one, so "last in sorted order wins".
func sortByKeyThenOrder(rows []schema.Row, keys []string, order string) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := compareValues(rows[i][k], rows[j][k]); c != 0 {
				return c < 0
			}
		}
		return compareValues(rows[i][order], rows[j][order]) < 0
	})
}
