package domain

import (
	"fmt"
	"strings"
)

// ValidateCollectionName checks that a collection name is usable as a
// case-sensitive namespace identifier. Path separators are rejected because
// some index backends map collections onto storage paths.
func ValidateCollectionName(name string) error {
	if name == "" {
		return NewValidationError("collection", name, ErrInvalidArgument)
	}
	if strings.ContainsAny(name, `/\`) {
		return NewValidationError("collection", name, ErrInvalidArgument)
	}
	return nil
}

// ValidateRecord checks a DocumentRecord before ingestion. Content is
// required; the id is optional and generated downstream when empty.
func ValidateRecord(rec DocumentRecord) error {
	if strings.TrimSpace(rec.Content) == "" {
		return NewValidationError("content", "", ErrInvalidArgument)
	}
	return nil
}

// ValidateSearch checks the common search parameters.
func ValidateSearch(query string, topK, offset int) error {
	if strings.TrimSpace(query) == "" {
		return NewValidationError("query", query, ErrInvalidArgument)
	}
	if topK < 1 {
		return NewValidationError("top_k", fmt.Sprint(topK), ErrInvalidArgument)
	}
	if offset < 0 {
		return NewValidationError("offset", fmt.Sprint(offset), ErrInvalidArgument)
	}
	return nil
}

// ValidateBatchSize checks a batch partition size.
func ValidateBatchSize(n int) error {
	if n < 1 {
		return NewValidationError("batch_size", fmt.Sprint(n), ErrInvalidArgument)
	}
	return nil
}

// ValidateFilters checks that every filter names a field and carries the
// operands its op requires.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if f.Field == "" {
			return NewValidationError("filter.field", "", ErrInvalidArgument)
		}
		switch f.Op {
		case FilterEq:
			if f.Value == "" {
				return NewValidationError("filter.value", "", ErrInvalidArgument)
			}
		case FilterIn:
			if len(f.Values) == 0 {
				return NewValidationError("filter.values", "", ErrInvalidArgument)
			}
		case FilterRange:
			if f.Min > f.Max {
				return NewValidationError("filter.range", fmt.Sprintf("%g>%g", f.Min, f.Max), ErrInvalidArgument)
			}
		default:
			return NewValidationError("filter.op", string(f.Op), ErrInvalidArgument)
		}
	}
	return nil
}
