package merge

import (
	"sort"

	"github.com/zeebo/xxh3"

	"github.com/tonysebion/bronze-foundry/pkg/schema"
)

// attrsHash fingerprints a row's payload attributes for change detection.
// Business keys and the order column are excluded: the key identifies the
// entity and the order column is the observation time, so only the
// remaining columns decide whether an scd_type_2 interval closes.
func (e *Engine) attrsHash(row schema.Row) uint64 {
	skip := make(map[string]struct{}, len(e.keys)+4)
	for _, k := range e.keys {
		skip[k] = struct{}{}
	}
	skip[e.order] = struct{}{}
	skip[ColEffectiveFrom] = struct{}{}
	skip[ColEffectiveTo] = struct{}{}
	skip[ColIsCurrent] = struct{}{}

	names := make([]string, 0, len(row))
	for name := range row {
		if _, ok := skip[name]; ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	h := xxh3.New()
	for _, name := range names {
		h.WriteString(name)
		h.WriteString("=")
		h.WriteString(canonicalValue(row[name]))
		h.WriteString("\x1e")
	}
	return h.Sum64()
}
