// Package dynamo provides a DynamoDB-backed store.Backend.
//
// Each collection maps to one item table keyed on "id". Partition indexes
// are served by a GSI over denormalized (partition_pk, partition_sk)
// attributes written with the item, so a range scan is a single Query.
// Membership indexes live in a separate sharded table whose rows are
// written in the same TransactWriteItems call as the item they index;
// store-write-then-index-write is atomic, never partially observable.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/internal/shard"
	"github.com/jacentio/arbor/store"
)

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// TablePrefix is prepended to collection names to form table names.
	// Default: "arbor_"
	TablePrefix string

	// MembershipTable is the name of the sharded membership index table.
	// Default: "arbor_membership"
	MembershipTable string

	// PartitionIndex is the GSI name used for partition range scans.
	// Default: "partition-index"
	PartitionIndex string

	// NumShards is the number of shards for the membership table.
	// Higher values increase write throughput per (field, member) pair but
	// require more parallel queries on lookup.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// Indexes declares the secondary indexes maintained on writes.
	Indexes []store.IndexSpec
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		TablePrefix:     "arbor_",
		MembershipTable: "arbor_membership",
		PartitionIndex:  "partition-index",
		NumShards:       1,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TablePrefix == "" {
		c.TablePrefix = "arbor_"
	}
	if c.MembershipTable == "" {
		c.MembershipTable = "arbor_membership"
	}
	if c.PartitionIndex == "" {
		c.PartitionIndex = "partition-index"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
}

// Store is a DynamoDB implementation of store.Backend.
type Store struct {
	client *dynamodb.Client
	config Config
}

// New creates a new DynamoDB backend.
func New(client *dynamodb.Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

func (s *Store) table(collection string) string {
	return s.config.TablePrefix + collection
}

// CollectionForTable maps a DynamoDB table name back to its collection
// name. Returns "" for tables outside this backend's prefix, including the
// membership table.
func (s *Store) CollectionForTable(table string) string {
	if table == s.config.MembershipTable {
		return ""
	}
	if !strings.HasPrefix(table, s.config.TablePrefix) {
		return ""
	}
	return strings.TrimPrefix(table, s.config.TablePrefix)
}

func (s *Store) specsFor(collection string) []store.IndexSpec {
	var specs []store.IndexSpec
	for _, spec := range s.config.Indexes {
		if spec.Collection == collection {
			specs = append(specs, spec)
		}
	}
	return specs
}

// membershipRow is the shape of a membership index table item.
type membershipRow struct {
	PK        string `dynamodbav:"pk"`
	SK        string `dynamodbav:"sk"`
	Field     string `dynamodbav:"field"`
	Member    string `dynamodbav:"member"`
	RecordKey string `dynamodbav:"record_key"`
	RecordSeq int64  `dynamodbav:"record_seq"`
}

// Get retrieves a record by key, returning store.ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, collection, key string) (*store.Record, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(collection)),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, store.ErrNotFound
	}
	return unmarshalRecord(result.Item)
}

// Put stores a new record and its index rows in one transaction. Returns
// store.ErrDuplicateKey if the key is already in use.
func (s *Store) Put(ctx context.Context, collection string, rec *store.Record) error {
	if rec.Seq == 0 {
		rec.Seq = rec.CreatedAt.UnixNano()
	}

	item, err := marshalRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var items []types.TransactWriteItem
	entityPutIndex := len(items)
	for _, spec := range s.specsFor(collection) {
		if spec.Kind != store.IndexPartition {
			continue
		}
		// Denormalized GSI key attributes; written once, frozen with the
		// record's derived fields.
		value := rec.Fields.String(spec.Field)
		sortValue := rec.Fields.String(spec.SortField)
		item["partition_pk"] = &types.AttributeValueMemberS{
			Value: spec.Field + "#" + value,
		}
		item["partition_sk"] = &types.AttributeValueMemberS{
			Value: shard.PartitionSK(sortValue, rec.ID),
		}
	}

	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(s.table(collection)),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})

	for _, spec := range s.specsFor(collection) {
		if spec.Kind != store.IndexMembership {
			continue
		}
		for _, member := range rec.Fields.Keys(spec.Field) {
			row, err := s.marshalMembershipRow(spec.Field, member, rec.ID, rec.Seq)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(s.config.MembershipTable),
					Item:      row,
				},
			})
		}
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapPutError(err, entityPutIndex)
}

// ConditionalUpdate atomically evaluates cond and applies ops via a
// conditioned UpdateItem. When an append touches a membership-indexed
// field, the membership row rides in the same transaction.
func (s *Store) ConditionalUpdate(ctx context.Context, collection, key string, cond store.Condition, ops []store.Op) error {
	update, err := buildUpdate(cond, ops)
	if err != nil {
		return err
	}

	memberRows, err := s.membershipRowsFor(ctx, collection, key, ops)
	if err != nil {
		return err
	}

	if len(memberRows) == 0 {
		_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(s.table(collection)),
			Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: key}},
			UpdateExpression:          aws.String(update.expr),
			ConditionExpression:       aws.String(update.cond),
			ExpressionAttributeNames:  update.names,
			ExpressionAttributeValues: update.values,
		})
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return store.ErrNotMatched
		}
		return err
	}

	items := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:                 aws.String(s.table(collection)),
			Key:                       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: key}},
			UpdateExpression:          aws.String(update.expr),
			ConditionExpression:       aws.String(update.cond),
			ExpressionAttributeNames:  update.names,
			ExpressionAttributeValues: update.values,
		},
	}}
	for _, row := range memberRows {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(s.config.MembershipTable),
				Item:      row,
			},
		})
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapUpdateError(err)
}

// membershipRowsFor builds the membership index rows implied by AppendUnique
// ops against membership-indexed fields. Rows carry the record's stored
// sequence so lookups order update-path rows the same way as rows written
// at creation.
func (s *Store) membershipRowsFor(ctx context.Context, collection, key string, ops []store.Op) ([]map[string]types.AttributeValue, error) {
	var rows []map[string]types.AttributeValue
	var seq int64
	for _, op := range ops {
		if op.Kind != store.OpAppendUnique {
			continue
		}
		spec, ok := s.membershipSpec(collection, op.Field)
		if !ok {
			continue
		}
		if seq == 0 {
			var err error
			seq, err = s.recordSeq(ctx, collection, key)
			if err != nil {
				return nil, err
			}
		}
		member, _ := op.Value.(string)
		row, err := s.marshalMembershipRow(spec.Field, member, key, seq)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// recordSeq reads just the sequence attribute of a record. A missing record
// yields 0; the transaction that follows fails its existence condition.
func (s *Store) recordSeq(ctx context.Context, collection, key string) (int64, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table(collection)),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: key},
		},
		ProjectionExpression:     aws.String("#seq"),
		ExpressionAttributeNames: map[string]string{"#seq": attrSeq},
		ConsistentRead:           aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	if v, ok := result.Item[attrSeq].(*types.AttributeValueMemberN); ok {
		return strconv.ParseInt(v.Value, 10, 64)
	}
	return 0, nil
}

func (s *Store) marshalMembershipRow(field, member, recordKey string, recordSeq int64) (map[string]types.AttributeValue, error) {
	row, err := attributevalue.MarshalMap(membershipRow{
		PK:        shard.MembershipPK(field, member, recordKey, s.config.NumShards),
		SK:        recordKey,
		Field:     field,
		Member:    member,
		RecordKey: recordKey,
		RecordSeq: recordSeq,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal membership row: %w", err)
	}
	return row, nil
}

func (s *Store) membershipSpec(collection, field string) (store.IndexSpec, bool) {
	for _, spec := range s.specsFor(collection) {
		if spec.Kind == store.IndexMembership && spec.Field == field {
			return spec, true
		}
	}
	return store.IndexSpec{}, false
}

// LookupEquals fans out across the membership table's shards and returns
// matching record keys in creation order.
func (s *Store) LookupEquals(ctx context.Context, collection, field, member string) ([]string, error) {
	pks := shard.ShardPKs(field, member, s.config.NumShards)

	// Fast path for single shard (default)
	if len(pks) == 1 {
		rows, err := s.queryMembershipShard(ctx, pks[0])
		if err != nil {
			return nil, err
		}
		return keysInOrder(rows), nil
	}

	var mu sync.Mutex
	var all []membershipRow
	var wg sync.WaitGroup
	errs := make(chan error, len(pks))

	for _, pk := range pks {
		wg.Add(1)
		go func(pk string) {
			defer wg.Done()
			rows, err := s.queryMembershipShard(ctx, pk)
			if err != nil {
				errs <- fmt.Errorf("shard %s: %w", pk, err)
				return
			}
			mu.Lock()
			all = append(all, rows...)
			mu.Unlock()
		}(pk)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return keysInOrder(all), nil
}

func (s *Store) queryMembershipShard(ctx context.Context, pk string) ([]membershipRow, error) {
	var rows []membershipRow
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.MembershipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			var row membershipRow
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, fmt.Errorf("unmarshal membership row: %w", err)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func keysInOrder(rows []membershipRow) []string {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RecordSeq != rows[j].RecordSeq {
			return rows[i].RecordSeq < rows[j].RecordSeq
		}
		return rows[i].RecordKey < rows[j].RecordKey
	})
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.RecordKey)
	}
	return keys
}

// RangeScan issues exactly one Query against the partition GSI and finishes
// the (OrderAsc asc, OrderDesc desc, sequence) ordering client side. The
// GSI sort key pre-orders by OrderAsc, so the scan streams in near-final
// order regardless of tree depth or breadth.
func (s *Store) RangeScan(ctx context.Context, collection string, q store.RangeQuery) ([]*store.Record, error) {
	var recs []*store.Record
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table(collection)),
		IndexName:              aws.String(s.config.PartitionIndex),
		KeyConditionExpression: aws.String("partition_pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: q.Field + "#" + q.Value},
		},
		ScanIndexForward: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			rec, err := unmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if q.OrderAsc != "" {
			av, bv := a.Fields.String(q.OrderAsc), b.Fields.String(q.OrderAsc)
			if av != bv {
				return av < bv
			}
		}
		if q.OrderDesc != "" {
			av, bv := a.Fields.Int(q.OrderDesc), b.Fields.Int(q.OrderDesc)
			if av != bv {
				return av > bv
			}
		}
		return a.Seq < b.Seq
	})
	return recs, nil
}

// mapPutError maps DynamoDB transaction errors for Put operations.
func mapPutError(err error, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return store.ErrDuplicateKey
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == entityPutIndex {
					return store.ErrDuplicateKey
				}
				// A failed index-row write after the item condition passed
				// means store and index would diverge.
				return fmt.Errorf("%w: membership row rejected", store.ErrIndexInconsistency)
			}
		}
	}

	return err
}

// mapUpdateError maps DynamoDB transaction errors for ConditionalUpdate
// operations. The update is always the first transact item.
func mapUpdateError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == 0 {
					return store.ErrNotMatched
				}
				return fmt.Errorf("%w: membership row rejected", store.ErrIndexInconsistency)
			}
		}
	}

	return err
}
