package domain

import "strconv"

// Matches reports whether a metadata map satisfies the filter. It is the
// reference post-filter used when an index backend cannot push a condition
// down natively.
func (f Filter) Matches(meta map[string]string) bool {
	v, ok := meta[f.Field]
	if !ok {
		return false
	}
	switch f.Op {
	case FilterEq:
		return v == f.Value
	case FilterIn:
		for _, want := range f.Values {
			if v == want {
				return true
			}
		}
		return false
	case FilterRange:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return false
		}
		return n >= f.Min && n < f.Max
	}
	return false
}

// MatchesAll reports whether a metadata map satisfies every filter.
func MatchesAll(filters []Filter, meta map[string]string) bool {
	for _, f := range filters {
		if !f.Matches(meta) {
			return false
		}
	}
	return true
}
