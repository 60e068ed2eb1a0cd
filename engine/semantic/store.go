// Package semantic is the sole owner of all Qdrant operations. It exposes
// the similarity-index primitives (upsert, query, delete, scroll, count)
// over named collections; ranking policy and caching live upstream.
package semantic

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Reserved payload fields managed by the store. Everything else in a point's
// payload is caller metadata.
const (
	fieldContent   = "content"
	fieldCreatedAt = "created_at"
	fieldDocID     = "doc_id"
)

// pointID maps a record id onto a Qdrant point id. Qdrant only accepts
// UUIDs (or unsigned ints) as point ids, so any other caller id is hashed
// into one deterministically; the original id travels in the payload.
func pointID(id string) string {
	if uuid.Validate(id) == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// pointsAPI is the slice of pb.PointsClient this store uses. Narrowed so
// tests can mock it without the full generated surface.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient this store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore talks to Qdrant over gRPC.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a VectorStore from pre-built clients. Used in tests.
func NewWithClients(points pointsAPI, collections collectionsAPI) *VectorStore {
	return &VectorStore{points: points, collections: collections}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the named collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, collection string, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == collection {
			return nil
		}
	}

	d := uint64(dims)
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     d,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", collection, err)
	}
	return nil
}

// Drop deletes the named collection and all its points.
func (v *VectorStore) Drop(ctx context.Context, collection string) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: drop collection %s: %w", collection, err)
	}
	return nil
}

// Upsert stores records into the collection. Existing ids are overwritten.
func (v *VectorStore) Upsert(ctx context.Context, collection string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+3)
		payload[fieldContent] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.Content}}
		payload[fieldCreatedAt] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: r.CreatedAt}}
		payload[fieldDocID] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: r.ID}}
		for k, val := range r.Metadata {
			if k == fieldContent || k == fieldCreatedAt || k == fieldDocID {
				continue
			}
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
		}

		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload,
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points into %s: %w", len(records), collection, err)
	}
	return nil
}

// Delete removes points by id.
func (v *VectorStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}}
	}
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete %d points from %s: %w", len(ids), collection, err)
	}
	return nil
}

// Fetch retrieves points by id. Missing ids are simply absent from the result.
func (v *VectorStore) Fetch(ctx context.Context, collection string, ids []string) ([]Hit, error) {
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}}
	}
	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if isMissingCollection(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: fetch %d points from %s: %w", len(ids), collection, err)
	}
	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = hitFromPayload(r.GetId().GetUuid(), 0, r.GetPayload())
	}
	return hits, nil
}

// Query performs k-NN similarity search with optional filter push-down.
func (v *VectorStore) Query(ctx context.Context, collection string, embedding []float32, limit int, filters []Filter) ([]Hit, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if f := buildFilter(filters); f != nil {
		req.Filter = f
	}

	resp, err := v.points.Search(ctx, req)
	if isMissingCollection(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("semantic: query %s: %w", collection, err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = hitFromPayload(r.GetId().GetUuid(), r.GetScore(), r.GetPayload())
	}
	return hits, nil
}

// Scroll pages through all points matching the filters, without scoring.
// offset is the opaque cursor from a previous call; empty starts from the
// beginning. The returned cursor is empty when the scan is exhausted.
func (v *VectorStore) Scroll(ctx context.Context, collection string, filters []Filter, limit int, offset string) ([]Hit, string, error) {
	lim := uint32(limit)
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          &lim,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if f := buildFilter(filters); f != nil {
		req.Filter = f
	}
	if offset != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: offset}}
	}

	resp, err := v.points.Scroll(ctx, req)
	if isMissingCollection(err) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("semantic: scroll %s: %w", collection, err)
	}

	hits := make([]Hit, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		hits[i] = hitFromPayload(r.GetId().GetUuid(), 0, r.GetPayload())
	}
	return hits, resp.GetNextPageOffset().GetUuid(), nil
}

// Count returns the exact number of points in the collection.
func (v *VectorStore) Count(ctx context.Context, collection string) (uint64, error) {
	exact := true
	resp, err := v.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	})
	if isMissingCollection(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("semantic: count %s: %w", collection, err)
	}
	return resp.GetResult().GetCount(), nil
}

// isMissingCollection reports whether an error means the collection does
// not exist yet. Read paths treat that as an empty result, not a failure.
func isMissingCollection(err error) bool {
	if err == nil {
		return false
	}
	return status.Code(err) == codes.NotFound
}

// hitFromPayload splits a point payload into the reserved fields and metadata.
// When the payload carries the original record id, it wins over the point id
// so callers never see the hashed form.
func hitFromPayload(id string, score float32, payload map[string]*pb.Value) Hit {
	h := Hit{
		ID:       id,
		Score:    score,
		Metadata: make(map[string]string),
	}
	for k, val := range payload {
		switch k {
		case fieldContent:
			h.Content = val.GetStringValue()
		case fieldCreatedAt:
			h.CreatedAt = val.GetIntegerValue()
			h.Metadata[k] = strconv.FormatInt(val.GetIntegerValue(), 10)
		case fieldDocID:
			if v := val.GetStringValue(); v != "" {
				h.ID = v
			}
		default:
			h.Metadata[k] = val.GetStringValue()
		}
	}
	return h
}
