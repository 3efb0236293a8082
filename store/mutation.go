package store

import "time"

// CondKind identifies the predicate form of a conditional update.
type CondKind int

const (
	// CondNone always matches. Used for unconditional field updates.
	CondNone CondKind = iota

	// CondNotContains matches when the list field does not contain Value.
	CondNotContains

	// CondEquals matches when the scalar field equals Value.
	CondEquals

	// CondExists matches when the field is present on the record.
	CondExists
)

// Condition is the predicate half of a conditional update. It is evaluated
// against the current field values in the same indivisible step as the
// mutation it guards.
type Condition struct {
	Kind  CondKind
	Field string
	Value any
}

// NotContains returns a condition matching records whose list field does not
// contain the given member key.
func NotContains(field, member string) Condition {
	return Condition{Kind: CondNotContains, Field: field, Value: member}
}

// Equals returns a condition matching records whose field equals value.
func Equals(field string, value any) Condition {
	return Condition{Kind: CondEquals, Field: field, Value: value}
}

// Matches reports whether the condition holds against the record.
func (c Condition) Matches(rec *Record) bool {
	switch c.Kind {
	case CondNone:
		return true
	case CondNotContains:
		member, _ := c.Value.(string)
		for _, k := range rec.Fields.Keys(c.Field) {
			if k == member {
				return false
			}
		}
		return true
	case CondEquals:
		return scalarEquals(rec.Fields[c.Field], c.Value)
	case CondExists:
		_, ok := rec.Fields[c.Field]
		return ok
	}
	return false
}

// scalarEquals compares field values of the supported scalar kinds. List
// fields and other uncomparable kinds never match; comparing them directly
// would panic.
func scalarEquals(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case int, int64:
		an, _ := asInt64(a)
		bn, ok := asInt64(b)
		return ok && an == bn
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case nil:
		return b == nil
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// OpKind identifies a field-level mutation.
type OpKind int

const (
	// OpIncrement adds Value (int64) to a numeric field.
	OpIncrement OpKind = iota

	// OpAppendUnique appends Value (string) to a list field. Uniqueness is
	// enforced by the guarding condition, not by the append itself.
	OpAppendUnique

	// OpSet replaces a scalar field with Value.
	OpSet
)

// Op is a single field-level operation inside a conditional update.
type Op struct {
	Kind  OpKind
	Field string
	Value any
}

// Increment returns an op adding by to a numeric field.
func Increment(field string, by int64) Op {
	return Op{Kind: OpIncrement, Field: field, Value: by}
}

// AppendUnique returns an op appending member to a list field.
func AppendUnique(field, member string) Op {
	return Op{Kind: OpAppendUnique, Field: field, Value: member}
}

// Set returns an op replacing a scalar field's value.
func Set(field string, value any) Op {
	return Op{Kind: OpSet, Field: field, Value: value}
}

// ApplyOps applies the ops to the record's fields in order. The caller is
// responsible for making the apply indivisible relative to concurrent
// operations on the same key.
func ApplyOps(rec *Record, ops []Op) {
	for _, op := range ops {
		switch op.Kind {
		case OpIncrement:
			by, _ := op.Value.(int64)
			rec.Fields[op.Field] = rec.Fields.Int(op.Field) + by
		case OpAppendUnique:
			member, _ := op.Value.(string)
			rec.Fields[op.Field] = append(rec.Fields.Keys(op.Field), member)
		case OpSet:
			rec.Fields[op.Field] = op.Value
		}
	}
	rec.Version++
}
