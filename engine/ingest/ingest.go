// Package ingest provides the asynchronous ingestion path: batches of
// documents arrive on a NATS subject, run through validation, and land in
// the document store via bulk upserts. Failures are retried a bounded
// number of times and then parked on a dead-letter subject.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/StudyPathAI/studypath-engine/engine/domain"
	"github.com/StudyPathAI/studypath-engine/pkg/fn"
	"github.com/StudyPathAI/studypath-engine/pkg/natsutil"
)

const (
	// Subject carries incoming ingestion requests.
	Subject = "engine.documents"
	// DLQSubject receives requests that exhausted their retries.
	DLQSubject = "engine.documents.dlq"
	// MaxRetries before a request is parked on the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// BatchAdder is the slice of the document store this consumer uses.
type BatchAdder interface {
	AddDocumentsBatch(ctx context.Context, collection string, recs []domain.DocumentRecord, batchSize int) ([]string, error)
}

// Deps holds the consumer's external dependencies.
type Deps struct {
	Store  BatchAdder
	Logger *slog.Logger
}

// Validate checks a Request before it touches the store.
var Validate fn.Stage[Request, Request] = func(_ context.Context, req Request) fn.Result[Request] {
	if err := domain.ValidateCollectionName(req.Collection); err != nil {
		return fn.Err[Request](err)
	}
	if len(req.Documents) == 0 {
		return fn.Errf[Request]("ingest: empty document batch: %w", domain.ErrInvalidArgument)
	}
	for i, rec := range req.Documents {
		if err := domain.ValidateRecord(rec); err != nil {
			return fn.Errf[Request]("ingest: document %d: %w", i, err)
		}
	}
	return fn.Ok(req)
}

// NewStore creates the stage that commits a validated Request.
func NewStore(store BatchAdder) fn.Stage[Request, Receipt] {
	return func(ctx context.Context, req Request) fn.Result[Receipt] {
		ids, err := store.AddDocumentsBatch(ctx, req.Collection, req.Documents, req.BatchSize)
		if err != nil {
			return fn.Err[Receipt](err)
		}
		return fn.Ok(Receipt{Collection: req.Collection, IDs: ids})
	}
}

// NewPipeline composes the ingestion stages with tracing and a logging tap.
func NewPipeline(deps Deps) fn.Stage[Request, Receipt] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	received := fn.TapStage(func(_ context.Context, req Request) {
		log.Debug("ingest: request received", "collection", req.Collection, "docs", len(req.Documents))
	})
	pre := fn.Pipeline(received, fn.TracedStage("validate", Validate))
	return fn.Then(pre, fn.TracedStage("store", NewStore(deps.Store)))
}

// DLQMessage is published on DLQSubject when a request exhausts its
// retries. Monitors subscribe to it for alerting and replay.
type DLQMessage struct {
	Request Request `json:"request"`
	Error   string  `json:"error"`
	Retries int     `json:"retries"`
}

// StartConsumer subscribes to Subject and runs every request through the
// pipeline. Invalid-argument failures go straight to the DLQ (a retry can
// never fix them); transient failures are re-published with an incremented
// retry header until MaxRetries.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return nc.Subscribe(Subject, func(msg *nats.Msg) {
		var req Request
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Error("ingest: unmarshal failed", "error", err)
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		ctx := context.Background()
		result := pipeline(ctx, req)
		if result.IsErr() {
			_, pipeErr := result.Unwrap()
			retries++
			log.Error("ingest: pipeline failed",
				"error", pipeErr,
				"collection", req.Collection,
				"docs", len(req.Documents),
				"retry", retries,
			)

			if retries >= MaxRetries || isPermanent(pipeErr) {
				dlq := DLQMessage{Request: req, Error: pipeErr.Error(), Retries: retries}
				if err := natsutil.Publish(ctx, nc, DLQSubject, dlq); err != nil {
					log.Error("ingest: DLQ publish failed", "error", err)
				}
			} else {
				retryMsg := nats.NewMsg(Subject)
				retryMsg.Data = msg.Data
				retryMsg.Header = nats.Header{}
				retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
				if err := nc.PublishMsg(retryMsg); err != nil {
					log.Error("ingest: retry publish failed", "error", err)
				}
			}
		} else {
			receipt, _ := result.Unwrap()
			log.Info("ingest: committed", "collection", receipt.Collection, "docs", len(receipt.IDs))
		}

		if msg.Reply != "" {
			_ = msg.Ack()
		}
	})
}

// isPermanent reports whether retrying can never succeed.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidArgument)
}
