package domain

import (
	"math"
	"testing"
)

func TestFilterMatches(t *testing.T) {
	meta := map[string]string{
		"topic":      "math",
		"level":      "201",
		"created_at": "1700000000",
		"not_num":    "abc",
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq hit", Eq("topic", "math"), true},
		{"eq miss", Eq("topic", "physics"), false},
		{"eq absent field", Eq("missing", "x"), false},
		{"in hit", In("level", "101", "201"), true},
		{"in miss", In("level", "101", "301"), false},
		{"range inside", Range("created_at", 1699999999, 1700000001), true},
		{"range lower inclusive", Range("created_at", 1700000000, 1800000000), true},
		{"range upper exclusive", Range("created_at", 1600000000, 1700000000), false},
		{"range open below", Range("created_at", math.Inf(-1), 1700000001), true},
		{"range non-numeric value", Range("not_num", 0, 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(meta); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesAllIsConjunction(t *testing.T) {
	meta := map[string]string{"topic": "math", "level": "201"}

	if !MatchesAll([]Filter{Eq("topic", "math"), Eq("level", "201")}, meta) {
		t.Error("all-true conjunction should match")
	}
	if MatchesAll([]Filter{Eq("topic", "math"), Eq("level", "999")}, meta) {
		t.Error("one false condition should fail the conjunction")
	}
	if !MatchesAll(nil, meta) {
		t.Error("empty filter set matches everything")
	}
}
