package audit

import "reflect"

// Diff computes the shallow delta between two snapshots. Keys present on
// both sides with differing values map to {"old": v1, "new": v2}; keys
// only in after map to {"added": v}; keys only in before map to
// {"removed": v}. Values are compared as opaque documents, one level
// deep. Pure function: same inputs, same output, no I/O.
func Diff(before, after map[string]any) map[string]map[string]any {
	changes := make(map[string]map[string]any)
	for key, oldVal := range before {
		newVal, ok := after[key]
		if !ok {
			changes[key] = map[string]any{"removed": oldVal}
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			changes[key] = map[string]any{"old": oldVal, "new": newVal}
		}
	}
	for key, newVal := range after {
		if _, ok := before[key]; !ok {
			changes[key] = map[string]any{"added": newVal}
		}
	}
	return changes
}
