// Package store provides a document store core with atomic conditional
// updates and synchronously maintained secondary indexes.
//
// Arbor is designed for applications that need single-document
// check-then-mutate atomicity (the upvote pattern) and ordered
// secondary-index reads (materialized-path comment trees) without a full
// transaction engine.
//
// # Key Features
//
//   - Atomic conditional updates: predicate + mutation as one indivisible step
//   - Secondary indexes updated in the same unit as the document write
//   - Membership lookups over list fields (who voted on what)
//   - Partition-ordered range scans for tree reconstruction
//   - Pluggable backends: in-memory and DynamoDB
//
// # Records
//
// A [Record] is an opaque immutable key plus named typed fields. Supported
// field kinds are string, int64, bool, time.Time, and []string key lists.
// Managed fields (version, sequence, creation time) are assigned by the
// store and must not be set by callers.
//
// # Conditional Updates
//
// [Store.ConditionalUpdate] evaluates a [Condition] against the current
// record and, only if it matches, applies a set of field [Op]s as a single
// indivisible step:
//
//	cond := store.NotContains("voters", "user-1")
//	ops := []store.Op{
//	    store.Increment("votes", 1),
//	    store.AppendUnique("voters", "user-1"),
//	}
//	err := s.ConditionalUpdate(ctx, "stories", key, cond, ops, store.AckSync)
//
// A failed predicate returns [ErrNotMatched], which is an expected outcome
// under concurrent voting, not a failure.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - record doesn't exist
//   - [ErrNotMatched] - conditional predicate failed (or target missing)
//   - [ErrParentNotFound] - parent validation failed at creation
//   - [ErrDuplicateKey] - caller-supplied key already in use
//   - [ErrIndexInconsistency] - store and index diverged; rebuild required
package store
