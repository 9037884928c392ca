package merge

import (
	"context"
	"sort"

	"github.com/tonysebion/bronze-foundry/pkg/schema"
)

// ctxCheckInterval bounds how many rows a reduction processes between
// cancellation checks.
const ctxCheckInterval = 4096

// applyDedupe implements full_merge_dedupe and scd_type_1: union the prior
// full state (if any) with the incoming batch, then keep the row with the
// maximum order column per business key. Re-applying the reduction to its
// own output is a no-op.
func (e *Engine) applyDedupe(ctx context.Context, prior *StateSnapshot, batch []schema.Row) (*Result, error) {
	rows := make([]schema.Row, 0, len(batch)+priorLen(prior))
	if prior != nil {
		rows = append(rows, prior.Rows...)
	}
	rows = append(rows, batch...)

	sortByKeyThenOrder(rows, e.keys, e.order)

	reduced := make([]schema.Row, 0, len(rows))
	lastKey := ""
	for i, row := range rows {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := keyOf(row, e.keys)
		if i > 0 && key == lastKey {
			// Later row in sorted order wins, including ties on the
			// order column.
			reduced[len(reduced)-1] = row
			continue
		}
		reduced = append(reduced, row)
		lastKey = key
	}

	e.log.Debug("dedupe reduction complete",
		"dataset", e.dataset.ID(), "input", len(rows), "output", len(reduced))
	return &Result{Current: reduced}, nil
}

// applySCD2 runs the per-business-key state machine: NoRecord and
// Open(attrs, effective_from). A changed observation closes the open row
// at the new record time and opens a new one; an identical observation is
// a no-op.
func (e *Engine) applySCD2(ctx context.Context, prior *StateSnapshot, batch []schema.Row) (*Result, error) {
	closed := make(map[string][]schema.Row)
	open := make(map[string]schema.Row)

	if prior != nil {
		for _, row := range prior.Rows {
			key := keyOf(row, e.keys)
			if isCurrent(row) {
				open[key] = row.Clone()
			} else {
				closed[key] = append(closed[key], row.Clone())
			}
		}
	}

	incoming := make([]schema.Row, len(batch))
	copy(incoming, batch)
	sortByKeyThenOrder(incoming, e.keys, e.order)

	for i, row := range incoming {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		key := keyOf(row, e.keys)
		recordTime := row[e.order]

		cur, hasOpen := open[key]
		if hasOpen && compareValues(recordTime, cur[ColEffectiveFrom]) < 0 {
			// A late arrival older than the open row cannot close it
			// without inverting the interval; the timeline keeps the
			// newer truth and the stale observation is dropped.
			e.log.Warn("dropped stale observation",
				"dataset", e.dataset.ID(), "key", key, "order", recordTime, "open_since", cur[ColEffectiveFrom])
			continue
		}
		if hasOpen && e.attrsHash(cur) == e.attrsHash(row) {
			// No change; no emission.
			continue
		}
		if hasOpen {
			cur[ColEffectiveTo] = recordTime
			cur[ColIsCurrent] = false
			closed[key] = append(closed[key], cur)
		}
		next := row.Clone()
		next[ColEffectiveFrom] = recordTime
		next[ColEffectiveTo] = nil
		next[ColIsCurrent] = true
		open[key] = next
	}

	keys := make([]string, 0, len(open)+len(closed))
	seen := make(map[string]struct{})
	for k := range closed {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range open {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var history []schema.Row
	var current []schema.Row
	for _, k := range keys {
		rows := append([]schema.Row(nil), closed[k]...)
		sort.SliceStable(rows, func(i, j int) bool {
			return compareValues(rows[i][ColEffectiveFrom], rows[j][ColEffectiveFrom]) < 0
		})
		history = append(history, rows...)
		if cur, ok := open[k]; ok {
			history = append(history, cur)
			current = append(current, cur)
		}
	}

	e.log.Debug("scd2 merge complete",
		"dataset", e.dataset.ID(), "observations", len(incoming), "timeline", len(history), "current", len(current))
	return &Result{Current: current, History: history}, nil
}

func priorLen(prior *StateSnapshot) int {
	if prior == nil {
		return 0
	}
	return len(prior.Rows)
}

func isCurrent(row schema.Row) bool {
	v, ok := row[ColIsCurrent]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
