package audit

import (
	"reflect"
	"testing"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name   string
		before map[string]any
		after  map[string]any
		want   map[string]map[string]any
	}{
		{
			name:   "change and addition",
			before: map[string]any{"a": 1, "b": 2},
			after:  map[string]any{"a": 1, "b": 3, "c": 4},
			want: map[string]map[string]any{
				"b": {"old": 2, "new": 3},
				"c": {"added": 4},
			},
		},
		{
			name:   "removal",
			before: map[string]any{"a": 1},
			after:  map[string]any{},
			want: map[string]map[string]any{
				"a": {"removed": 1},
			},
		},
		{
			name:   "no changes",
			before: map[string]any{"a": 1, "b": "x"},
			after:  map[string]any{"a": 1, "b": "x"},
			want:   map[string]map[string]any{},
		},
		{
			name:   "zero values survive",
			before: map[string]any{"active": true, "count": 1},
			after:  map[string]any{"active": false, "count": 0},
			want: map[string]map[string]any{
				"active": {"old": true, "new": false},
				"count":  {"old": 1, "new": 0},
			},
		},
		{
			name:   "nested values compared deeply",
			before: map[string]any{"tags": []string{"a", "b"}},
			after:  map[string]any{"tags": []string{"a", "b"}},
			want:   map[string]map[string]any{},
		},
		{
			name:   "type change is a change",
			before: map[string]any{"v": 1},
			after:  map[string]any{"v": "1"},
			want: map[string]map[string]any{
				"v": {"old": 1, "new": "1"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Diff(tc.before, tc.after)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Diff() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestDiffIsPure(t *testing.T) {
	before := map[string]any{"a": 1}
	after := map[string]any{"a": 2}
	first := Diff(before, after)
	second := Diff(before, after)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs must produce identical output")
	}
	if before["a"] != 1 || after["a"] != 2 {
		t.Fatal("inputs must not be mutated")
	}
}
