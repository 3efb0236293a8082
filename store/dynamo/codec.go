package dynamo

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// Managed attribute names. Everything else on an item is a record field.
const (
	attrID          = "id"
	attrVersion     = "version"
	attrSeq         = "seq"
	attrCreatedAt   = "created_at"
	attrPartitionPK = "partition_pk"
	attrPartitionSK = "partition_sk"
)

// marshalRecord converts a record to a DynamoDB item. time.Time fields are
// stored as RFC3339Nano strings and round-trip as strings; components that
// need them as times parse explicitly.
func marshalRecord(rec *store.Record) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		attrID:        &types.AttributeValueMemberS{Value: rec.ID},
		attrVersion:   &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Version, 10)},
		attrSeq:       &types.AttributeValueMemberN{Value: strconv.FormatInt(rec.Seq, 10)},
		attrCreatedAt: &types.AttributeValueMemberS{Value: rec.CreatedAt.UTC().Format(time.RFC3339Nano)},
	}
	for name, value := range rec.Fields {
		av, err := encodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		item[name] = av
	}
	return item, nil
}

// unmarshalRecord converts a DynamoDB item back to a record.
func unmarshalRecord(item map[string]types.AttributeValue) (*store.Record, error) {
	rec := &store.Record{Fields: make(store.Fields)}

	for name, av := range item {
		switch name {
		case attrID:
			if v, ok := av.(*types.AttributeValueMemberS); ok {
				rec.ID = v.Value
			}
		case attrVersion:
			if v, ok := av.(*types.AttributeValueMemberN); ok {
				rec.Version, _ = strconv.ParseInt(v.Value, 10, 64)
			}
		case attrSeq:
			if v, ok := av.(*types.AttributeValueMemberN); ok {
				rec.Seq, _ = strconv.ParseInt(v.Value, 10, 64)
			}
		case attrCreatedAt:
			if v, ok := av.(*types.AttributeValueMemberS); ok {
				rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v.Value)
			}
		case attrPartitionPK, attrPartitionSK:
			// Index plumbing, not a record field.
		default:
			value, err := decodeValue(av)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			rec.Fields[name] = value
		}
	}
	return rec, nil
}

func encodeValue(value any) (types.AttributeValue, error) {
	switch v := value.(type) {
	case string:
		return &types.AttributeValueMemberS{Value: v}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}, nil
	case int:
		return &types.AttributeValueMemberN{Value: strconv.Itoa(v)}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}, nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: v.UTC().Format(time.RFC3339Nano)}, nil
	case []string:
		members := make([]types.AttributeValue, len(v))
		for i, m := range v {
			members[i] = &types.AttributeValueMemberS{Value: m}
		}
		return &types.AttributeValueMemberL{Value: members}, nil
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	return nil, fmt.Errorf("unsupported field kind %T", value)
}

func decodeValue(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		n, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberL:
		keys := make([]string, 0, len(v.Value))
		for _, m := range v.Value {
			s, ok := m.(*types.AttributeValueMemberS)
			if !ok {
				return nil, fmt.Errorf("non-string list member %T", m)
			}
			keys = append(keys, s.Value)
		}
		return keys, nil
	}
	return nil, fmt.Errorf("unsupported attribute kind %T", av)
}

// updateExpr is a compiled UpdateItem expression.
type updateExpr struct {
	expr   string
	cond   string
	names  map[string]string
	values map[string]types.AttributeValue
}

// buildUpdate compiles a condition and ops into DynamoDB expressions. The
// predicate always requires the item to exist, so a missing record fails
// the same condition check a non-matching one does.
func buildUpdate(cond store.Condition, ops []store.Op) (*updateExpr, error) {
	u := &updateExpr{
		names: map[string]string{
			"#version": attrVersion,
		},
		values: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	}

	u.cond = "attribute_exists(id)"
	switch cond.Kind {
	case store.CondNone:
	case store.CondNotContains:
		member, _ := cond.Value.(string)
		u.names["#cond"] = cond.Field
		u.values[":cond"] = &types.AttributeValueMemberS{Value: member}
		u.cond += " AND NOT contains(#cond, :cond)"
	case store.CondEquals:
		av, err := encodeValue(cond.Value)
		if err != nil {
			return nil, fmt.Errorf("condition value: %w", err)
		}
		u.names["#cond"] = cond.Field
		u.values[":cond"] = av
		u.cond += " AND #cond = :cond"
	case store.CondExists:
		u.names["#cond"] = cond.Field
		u.cond += " AND attribute_exists(#cond)"
	default:
		return nil, fmt.Errorf("unsupported condition kind %d", cond.Kind)
	}

	var setClauses, addClauses []string
	for i, op := range ops {
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		u.names[nameKey] = op.Field

		switch op.Kind {
		case store.OpIncrement:
			by, _ := op.Value.(int64)
			u.values[valueKey] = &types.AttributeValueMemberN{Value: strconv.FormatInt(by, 10)}
			addClauses = append(addClauses, fmt.Sprintf("%s %s", nameKey, valueKey))
		case store.OpAppendUnique:
			member, _ := op.Value.(string)
			u.values[valueKey] = &types.AttributeValueMemberL{
				Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: member}},
			}
			u.values[":empty"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
			setClauses = append(setClauses,
				fmt.Sprintf("%s = list_append(if_not_exists(%s, :empty), %s)", nameKey, nameKey, valueKey))
		case store.OpSet:
			av, err := encodeValue(op.Value)
			if err != nil {
				return nil, fmt.Errorf("op value for %s: %w", op.Field, err)
			}
			u.values[valueKey] = av
			setClauses = append(setClauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
		default:
			return nil, fmt.Errorf("unsupported op kind %d", op.Kind)
		}
	}
	addClauses = append(addClauses, "#version :one")

	expr := ""
	if len(setClauses) > 0 {
		expr = "SET " + joinClauses(setClauses)
	}
	if len(addClauses) > 0 {
		if expr != "" {
			expr += " "
		}
		expr += "ADD " + joinClauses(addClauses)
	}
	u.expr = expr
	return u, nil
}

func joinClauses(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += ", " + c
	}
	return out
}
