package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
)

type fakeAdder struct {
	gotCollection string
	gotRecs       []domain.DocumentRecord
	gotBatchSize  int
	err           error
}

func (f *fakeAdder) AddDocumentsBatch(_ context.Context, collection string, recs []domain.DocumentRecord, batchSize int) ([]string, error) {
	f.gotCollection = collection
	f.gotRecs = recs
	f.gotBatchSize = batchSize
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, len(recs))
	for i := range recs {
		ids[i] = recs[i].ID
	}
	return ids, nil
}

func validRequest() Request {
	return Request{
		Collection: "docs",
		BatchSize:  50,
		Documents: []domain.DocumentRecord{
			{ID: "a", Content: "first"},
			{ID: "b", Content: "second"},
		},
	}
}

func TestValidateStage(t *testing.T) {
	ctx := context.Background()

	if r := Validate(ctx, validRequest()); r.IsErr() {
		_, err := r.Unwrap()
		t.Fatalf("valid request rejected: %v", err)
	}

	tests := []struct {
		name string
		req  Request
	}{
		{"empty collection", Request{Documents: []domain.DocumentRecord{{Content: "x"}}}},
		{"no documents", Request{Collection: "docs"}},
		{"blank document", Request{Collection: "docs", Documents: []domain.DocumentRecord{{Content: "  "}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(ctx, tt.req)
			if r.IsOk() {
				t.Fatal("expected validation failure")
			}
			_, err := r.Unwrap()
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestStoreStage(t *testing.T) {
	adder := &fakeAdder{}
	stage := NewStore(adder)

	result := stage(context.Background(), validRequest())
	receipt, err := result.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if adder.gotCollection != "docs" || adder.gotBatchSize != 50 || len(adder.gotRecs) != 2 {
		t.Errorf("adder saw %s/%d/%d", adder.gotCollection, adder.gotBatchSize, len(adder.gotRecs))
	}
	if receipt.Collection != "docs" || len(receipt.IDs) != 2 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestPipelineHappyPath(t *testing.T) {
	adder := &fakeAdder{}
	pipeline := NewPipeline(Deps{Store: adder})

	result := pipeline(context.Background(), validRequest())
	receipt, err := result.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if receipt.IDs[0] != "a" || receipt.IDs[1] != "b" {
		t.Errorf("ids = %v", receipt.IDs)
	}
}

func TestPipelineStopsAtValidation(t *testing.T) {
	adder := &fakeAdder{}
	pipeline := NewPipeline(Deps{Store: adder})

	result := pipeline(context.Background(), Request{Collection: "docs"})
	if result.IsOk() {
		t.Fatal("expected failure")
	}
	if adder.gotRecs != nil {
		t.Error("store stage must not run after validation failure")
	}
}

func TestPipelinePropagatesStoreError(t *testing.T) {
	wantErr := errors.New("index down")
	pipeline := NewPipeline(Deps{Store: &fakeAdder{err: wantErr}})

	result := pipeline(context.Background(), validRequest())
	_, err := result.Unwrap()
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v", err)
	}
}

func TestIsPermanent(t *testing.T) {
	if !isPermanent(domain.NewValidationError("content", "", domain.ErrInvalidArgument)) {
		t.Error("validation failures are permanent")
	}
	if isPermanent(errors.New("connection refused")) {
		t.Error("transient failures are retryable")
	}
}
