package dynamo

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.TablePrefix != "arbor_" {
		t.Errorf("expected TablePrefix 'arbor_', got %q", cfg.TablePrefix)
	}
	if cfg.MembershipTable != "arbor_membership" {
		t.Errorf("expected MembershipTable 'arbor_membership', got %q", cfg.MembershipTable)
	}
	if cfg.PartitionIndex != "partition-index" {
		t.Errorf("expected PartitionIndex 'partition-index', got %q", cfg.PartitionIndex)
	}
	if cfg.NumShards != 1 {
		t.Errorf("expected NumShards 1, got %d", cfg.NumShards)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero NumShards gets set to 1", Config{NumShards: 0}},
		{"negative NumShards gets set to 1", Config{NumShards: -5}},
		{"NumShards over 256 gets capped", Config{NumShards: 500}},
		{"empty names get defaults", Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.validate()
			if tt.cfg.NumShards < 1 || tt.cfg.NumShards > 256 {
				t.Errorf("NumShards out of bounds: %d", tt.cfg.NumShards)
			}
			if tt.cfg.TablePrefix == "" || tt.cfg.MembershipTable == "" || tt.cfg.PartitionIndex == "" {
				t.Error("expected defaults for empty names")
			}
		})
	}
}

func TestRecordRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := &store.Record{
		ID:        "C1",
		Version:   2,
		Seq:       42,
		CreatedAt: created,
		Fields: store.Fields{
			"body":     "hello",
			"votes":    int64(7),
			"pinned":   true,
			"voters":   []string{"U1", "U2"},
			"story_id": "S1",
		},
	}

	item, err := marshalRecord(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Index plumbing attributes must be invisible after decode.
	item[attrPartitionPK] = &types.AttributeValueMemberS{Value: "story_id#S1"}
	item[attrPartitionSK] = &types.AttributeValueMemberS{Value: "#abcd"}

	got, err := unmarshalRecord(item)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != "C1" || got.Version != 2 || got.Seq != 42 {
		t.Errorf("managed fields diverged: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("expected CreatedAt %v, got %v", created, got.CreatedAt)
	}
	if got.Fields.Int("votes") != 7 || !got.Fields.Bool("pinned") {
		t.Errorf("scalar fields diverged: %+v", got.Fields)
	}
	voters := got.Fields.Keys("voters")
	if len(voters) != 2 || voters[0] != "U1" {
		t.Errorf("expected voters [U1 U2], got %v", voters)
	}
	if _, ok := got.Fields[attrPartitionPK]; ok {
		t.Error("partition_pk leaked into record fields")
	}
}

func TestEncodeValue_Unsupported(t *testing.T) {
	if _, err := encodeValue(3.14); err == nil {
		t.Error("expected error for unsupported float field")
	}
}

func TestBuildUpdate_UpvotePattern(t *testing.T) {
	u, err := buildUpdate(
		store.NotContains("voters", "U1"),
		[]store.Op{
			store.Increment("votes", 1),
			store.AppendUnique("voters", "U1"),
		},
	)
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}

	if !strings.Contains(u.cond, "attribute_exists(id)") {
		t.Errorf("condition must require existing item: %q", u.cond)
	}
	if !strings.Contains(u.cond, "NOT contains(#cond, :cond)") {
		t.Errorf("condition missing membership check: %q", u.cond)
	}
	if !strings.Contains(u.expr, "list_append(if_not_exists(#attr1, :empty), :val1)") {
		t.Errorf("expression missing list append: %q", u.expr)
	}
	if !strings.Contains(u.expr, "ADD #attr0 :val0, #version :one") {
		t.Errorf("expression missing counter add and version bump: %q", u.expr)
	}
	if u.names["#cond"] != "voters" || u.names["#attr0"] != "votes" {
		t.Errorf("attribute names misassigned: %v", u.names)
	}
}

func TestBuildUpdate_SetOnly(t *testing.T) {
	u, err := buildUpdate(
		store.Condition{Kind: store.CondNone},
		[]store.Op{store.Set("username", "alice")},
	)
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}
	if u.cond != "attribute_exists(id)" {
		t.Errorf("expected bare existence condition, got %q", u.cond)
	}
	if !strings.Contains(u.expr, "SET #attr0 = :val0") {
		t.Errorf("expression missing set clause: %q", u.expr)
	}
}

func TestMembershipRows_CreationOrder(t *testing.T) {
	s := New(nil, DefaultConfig())

	// Keys chosen so lexicographic key order inverts creation order; the
	// sequence carried on each row must win.
	first, err := s.marshalMembershipRow("voters", "U1", "z-story", 100)
	if err != nil {
		t.Fatalf("marshal first row: %v", err)
	}
	second, err := s.marshalMembershipRow("voters", "U1", "a-story", 200)
	if err != nil {
		t.Fatalf("marshal second row: %v", err)
	}

	var rows []membershipRow
	for _, item := range []map[string]types.AttributeValue{second, first} {
		var row membershipRow
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			t.Fatalf("unmarshal row: %v", err)
		}
		if row.RecordSeq == 0 {
			t.Fatalf("membership row lost record sequence: %+v", row)
		}
		rows = append(rows, row)
	}

	keys := keysInOrder(rows)
	if len(keys) != 2 || keys[0] != "z-story" || keys[1] != "a-story" {
		t.Errorf("expected creation order [z-story a-story], got %v", keys)
	}
}

func TestKeysInOrder_SeqTieBreak(t *testing.T) {
	keys := keysInOrder([]membershipRow{
		{RecordKey: "b", RecordSeq: 10},
		{RecordKey: "a", RecordSeq: 10},
	})
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("expected key tie-break [a b], got %v", keys)
	}
}

func TestMapPutError(t *testing.T) {
	if err := mapPutError(nil, 0); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	dup := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if err := mapPutError(dup, 0); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	indexReject := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if err := mapPutError(indexReject, 0); !errors.Is(err, store.ErrIndexInconsistency) {
		t.Errorf("expected ErrIndexInconsistency, got %v", err)
	}
}

func TestMapUpdateError(t *testing.T) {
	notMatched := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if err := mapUpdateError(notMatched); !errors.Is(err, store.ErrNotMatched) {
		t.Errorf("expected ErrNotMatched, got %v", err)
	}

	passthrough := errors.New("throughput exceeded")
	if err := mapUpdateError(passthrough); !errors.Is(err, passthrough) {
		t.Errorf("expected passthrough, got %v", err)
	}
}
