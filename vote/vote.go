// Package vote implements the upvote pattern: a conditional counter
// increment plus a membership-list append, applied as one indivisible step
// against a single record.
//
// The predicate ("member not already in the list") and the mutation are
// never evaluated separately, so two simultaneous votes by the same member
// cannot both pass an existence check before either write lands.
package vote

import (
	"context"
	"log/slog"

	"github.com/jacentio/arbor/store"
)

// Engine executes conditional vote updates against one collection.
type Engine struct {
	store      *store.Store
	collection string
	logger     *slog.Logger
}

// NewEngine creates a vote engine over the given collection.
func NewEngine(s *store.Store, collection string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      s,
		collection: collection,
		logger:     logger,
	}
}

// MembershipIndex returns the index declaration backends need so that
// LookupEquals can answer "which records did this member vote on" without a
// full scan.
func MembershipIndex(collection, listField string) store.IndexSpec {
	return store.IndexSpec{
		Collection: collection,
		Field:      listField,
		Kind:       store.IndexMembership,
	}
}

// Option configures a single ApplyIfAbsent call.
type Option func(*applyOptions)

type applyOptions struct {
	ack store.AckMode
}

// FireAndForget dispatches the update without waiting for acknowledgment.
// The call returns nil immediately; the outcome is logged, never returned.
func FireAndForget() Option {
	return func(o *applyOptions) {
		o.ack = store.AckNone
	}
}

// ApplyIfAbsent atomically increments counterField and appends member to
// listField, but only if listField does not already contain member.
//
// Returns store.ErrNotMatched when the member is already present or the
// record is missing; the two are indistinguishable without a separate Get,
// which keeps the hot path to a single store call. ErrNotMatched is a
// normal outcome under concurrent voting and must not be treated as a
// failure by callers.
func (e *Engine) ApplyIfAbsent(ctx context.Context, key, member, counterField, listField string, opts ...Option) error {
	options := applyOptions{ack: store.AckSync}
	for _, opt := range opts {
		opt(&options)
	}

	cond := store.NotContains(listField, member)
	ops := []store.Op{
		store.Increment(counterField, 1),
		store.AppendUnique(listField, member),
	}

	err := e.store.ConditionalUpdate(ctx, e.collection, key, cond, ops, options.ack)
	if err == nil {
		// In fire-and-forget mode nil only means the update was handed
		// off; the store logs the eventual outcome.
		msg := "vote applied"
		if options.ack == store.AckNone {
			msg = "vote dispatched"
		}
		e.logger.Debug(msg,
			"collection", e.collection,
			"key", key,
			"member", member,
		)
	}
	return err
}

// VotedOn returns the keys of records whose listField contains member, in
// creation order. Requires a membership index over listField.
func (e *Engine) VotedOn(ctx context.Context, member, listField string) ([]string, error) {
	return e.store.LookupEquals(ctx, e.collection, listField, member)
}
