package semantic

import (
	"math"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
)

// Filter is re-exported so callers of the adapter read naturally.
type Filter = domain.Filter

// buildFilter translates typed filters into a native Qdrant filter. All
// conditions are conjoined. Returns nil when there is nothing to push down.
func buildFilter(filters []Filter) *pb.Filter {
	if len(filters) == 0 {
		return nil
	}
	must := make([]*pb.Condition, 0, len(filters))
	for _, f := range filters {
		switch f.Op {
		case domain.FilterEq:
			must = append(must, fieldMatch(f.Field, f.Value))
		case domain.FilterIn:
			must = append(must, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: f.Field,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: f.Values},
							},
						},
					},
				},
			})
		case domain.FilterRange:
			r := &pb.Range{}
			if !math.IsInf(f.Min, -1) {
				min := f.Min
				r.Gte = &min
			}
			if !math.IsInf(f.Max, 1) {
				max := f.Max
				r.Lt = &max
			}
			must = append(must, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   f.Field,
						Range: r,
					},
				},
			})
		}
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
