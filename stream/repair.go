// Package stream provides DynamoDB Streams handlers for index repair.
//
// The transactional write path keeps items and their membership index rows
// atomic, but rows written outside it (imports, manual fixes, a rejected
// index put surfaced as store.ErrIndexInconsistency) can leave the index
// behind the store. The handler replays item images from the table's
// stream and re-asserts the index rows each image implies; puts are
// idempotent, so replaying consistent records is harmless.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/store/dynamo"
)

// Handler processes DynamoDB stream events to repair index rows.
type Handler struct {
	backend *dynamo.Store
	// collectionFor maps a stream's table name to its collection name.
	collectionFor func(table string) string
	logger        *slog.Logger
}

// NewHandler creates a stream handler. collectionFor translates DynamoDB
// table names (from the event source ARN) to collection names; nil uses
// the backend's table-prefix mapping.
func NewHandler(backend *dynamo.Store, collectionFor func(table string) string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if collectionFor == nil {
		collectionFor = backend.CollectionForTable
	}
	return &Handler{
		backend:       backend,
		collectionFor: collectionFor,
		logger:        logger,
	}
}

// HandleIndexRepair processes DynamoDB stream events, re-asserting the
// membership index rows implied by each inserted or modified item. Designed
// to be used as an AWS Lambda handler.
func (h *Handler) HandleIndexRepair(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	if record.EventName != "INSERT" && record.EventName != "MODIFY" {
		return nil
	}

	table := tableFromARN(record.EventSourceArn)
	if table == "" {
		return fmt.Errorf("no table name in event source %q", record.EventSourceArn)
	}

	collection := h.collectionFor(table)
	if collection == "" {
		// Not one of ours (e.g. the membership table's own stream).
		return nil
	}

	rec := recordFromImage(record.Change.NewImage)
	if rec.ID == "" {
		return fmt.Errorf("stream image for %s has no id", table)
	}

	h.logger.Info("repairing index rows",
		"collection", collection,
		"key", rec.ID,
		"event", record.EventName,
	)
	return h.backend.EnsureIndexRows(ctx, collection, rec)
}

// recordFromImage converts a stream item image to a record. Only the kinds
// a record field can hold are carried over.
func recordFromImage(image map[string]events.DynamoDBAttributeValue) *store.Record {
	rec := &store.Record{Fields: make(store.Fields)}

	for name, av := range image {
		switch name {
		case "id":
			rec.ID = av.String()
		case "version":
			rec.Version = numberAttr(av)
		case "seq":
			rec.Seq = numberAttr(av)
		case "created_at":
			if t, err := time.Parse(time.RFC3339Nano, av.String()); err == nil {
				rec.CreatedAt = t
			}
		case "partition_pk", "partition_sk":
			// Index plumbing, not a record field.
		default:
			switch av.DataType() {
			case events.DataTypeString:
				rec.Fields[name] = av.String()
			case events.DataTypeNumber:
				rec.Fields[name] = numberAttr(av)
			case events.DataTypeBoolean:
				rec.Fields[name] = av.Boolean()
			case events.DataTypeList:
				rec.Fields[name] = stringListAttr(av)
			}
		}
	}
	return rec
}

func numberAttr(av events.DynamoDBAttributeValue) int64 {
	if av.DataType() != events.DataTypeNumber {
		return 0
	}
	n, _ := strconv.ParseInt(av.Number(), 10, 64)
	return n
}

func stringListAttr(av events.DynamoDBAttributeValue) []string {
	var out []string
	for _, item := range av.List() {
		if item.DataType() == events.DataTypeString {
			out = append(out, item.String())
		}
	}
	return out
}

// tableFromARN extracts the table name from a DynamoDB stream ARN of the
// form arn:aws:dynamodb:region:account:table/NAME/stream/TIMESTAMP.
func tableFromARN(arn string) string {
	idx := strings.Index(arn, ":table/")
	if idx < 0 {
		return ""
	}
	rest := arn[idx+len(":table/"):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return rest[:slash]
	}
	return rest
}
