package store

import "context"

// IndexKind identifies how an index organizes record keys.
type IndexKind int

const (
	// IndexMembership maps each member of a list field to the set of record
	// keys whose list contains it (e.g. voters -> stories voted on).
	IndexMembership IndexKind = iota

	// IndexPartition groups records by a scalar field value and keeps them
	// ordered for range scans (e.g. story_id -> comments, path-ordered).
	IndexPartition
)

// IndexSpec declares a secondary index over a collection field. Backends
// keep declared indexes consistent with every store mutation.
type IndexSpec struct {
	Collection string
	Field      string
	Kind       IndexKind

	// SortField names the field a partition index copies into its sort key
	// so range scans come back pre-ordered (e.g. "path"). Ignored for
	// membership indexes; backends that sort at query time may ignore it.
	SortField string
}

// RangeQuery describes a partition-ordered range scan.
//
// Results are ordered by OrderAsc ascending, then OrderDesc descending
// within equal OrderAsc values, then insertion sequence. A backend serves
// the whole query from a single index range scan.
type RangeQuery struct {
	// Field is the partition index field (e.g. "story_id").
	Field string

	// Value is the partition value to scan.
	Value string

	// OrderAsc is the primary sort field, ascending (e.g. "path").
	OrderAsc string

	// OrderDesc is the secondary sort field, descending (e.g. "votes").
	// Empty means insertion order within OrderAsc groups.
	OrderDesc string
}

// Backend is the storage boundary the core operates through. Implementations
// must make each write and its index updates appear as one atomic unit to
// readers: no record is observable written-but-unindexed.
type Backend interface {
	// Get returns the record at key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (*Record, error)

	// Put stores a new record under rec.ID, assigning the insertion
	// sequence. Returns ErrDuplicateKey if the key is already in use.
	// Declared indexes are updated in the same atomic unit.
	Put(ctx context.Context, collection string, rec *Record) error

	// ConditionalUpdate atomically evaluates cond against the record at key
	// and, only if it matches, applies ops as one indivisible step. Returns
	// ErrNotMatched when the predicate fails or the record is missing.
	ConditionalUpdate(ctx context.Context, collection, key string, cond Condition, ops []Op) error

	// LookupEquals returns the keys of records whose indexed list field
	// contains member, or whose indexed scalar field equals member.
	LookupEquals(ctx context.Context, collection, field, member string) ([]string, error)

	// RangeScan returns the records in the given partition, fully ordered
	// per the query, from a single index range scan.
	RangeScan(ctx context.Context, collection string, q RangeQuery) ([]*Record, error)
}
