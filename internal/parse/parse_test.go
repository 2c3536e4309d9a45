package parse

import (
	"reflect"
	"testing"
)

func TestStringListShapes(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want []string
	}{
		{"nil", nil, []string{}},
		{"string slice passthrough", []string{"a", "b"}, []string{"a", "b"}},
		{"json array", `["T1", "T2", "T3"]`, []string{"T1", "T2", "T3"}},
		{"json array of numbers", `[1, 2, 3]`, []string{"1", "2", "3"}},
		{"comma separated", "cooking, cleaning , welding", []string{"cooking", "cleaning", "welding"}},
		{"broken json falls back to split", `[T1, T2]`, []string{"T1", "T2"}},
		{"quoted tokens inside broken json", `["T1", "T2]`, []string{"T1", "T2"}},
		{"empty string", "", []string{}},
		{"only separators", ", ,", []string{}},
		{"any slice", []any{"x", float64(7)}, []string{"x", "7"}},
		{"unsupported type", 42, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StringList(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("StringList(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestIntListFiltersNonNumeric(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want []int
	}{
		{"json ints", "[1,2,3]", []int{1, 2, 3}},
		{"comma separated", "1, 2, 5", []int{1, 2, 5}},
		{"mixed garbage dropped", "1, two, 3", []int{1, 3}},
		{"fractional dropped", "1, 2.5, 3.0", []int{1, 3}},
		{"int slice passthrough", []int{4, 5}, []int{4, 5}},
		{"all garbage", "a, b", []int{}},
		{"empty", "", []int{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IntList(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("IntList(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestStringListNeverSharesBackingArray(t *testing.T) {
	in := []string{"a", "b"}
	out := StringList(in)
	out[0] = "mutated"
	if in[0] != "a" {
		t.Fatalf("input slice mutated through output")
	}
}
