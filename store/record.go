package store

import "time"

// Fields maps field names to typed values. The mapping carries no order;
// record ordering comes from index sort keys.
// Supported value kinds: string, int64, bool, time.Time, []string.
type Fields map[string]any

// Record is a uniquely keyed, field-structured unit of stored data.
// The key never changes after creation.
type Record struct {
	// ID is the record key. Assigned by the store on Put when empty.
	ID string

	// Fields holds the caller-visible field values.
	Fields Fields

	// Version is incremented on every applied update.
	Version int64

	// Seq is a backend-assigned monotonic insertion sequence, used as the
	// stable tie-break for creation-order sorting.
	Seq int64

	// CreatedAt is the creation timestamp, assigned once on Put.
	CreatedAt time.Time
}

// String returns the named field as a string, or "" if absent or not a string.
func (f Fields) String(name string) string {
	v, _ := f[name].(string)
	return v
}

// Int returns the named field as an int64, or 0 if absent or not numeric.
func (f Fields) Int(name string) int64 {
	switch v := f[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Bool returns the named field as a bool, or false if absent.
func (f Fields) Bool(name string) bool {
	v, _ := f[name].(bool)
	return v
}

// Keys returns the named list field, or nil if absent.
func (f Fields) Keys(name string) []string {
	v, _ := f[name].([]string)
	return v
}

// Time returns the named field as a time.Time, or the zero time if absent.
func (f Fields) Time(name string) time.Time {
	v, _ := f[name].(time.Time)
	return v
}

// Clone returns a deep copy of the fields. List values are copied so the
// clone cannot alias the original's backing arrays.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if keys, ok := v.([]string); ok {
			cp := make([]string, len(keys))
			copy(cp, keys)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Fields = r.Fields.Clone()
	return &cp
}
