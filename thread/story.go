package thread

import (
	"context"
	"time"

	"github.com/jacentio/arbor/store"
)

// Field names of a story record.
const (
	FieldTitle  = "title"
	FieldVotes  = "votes"
	FieldVoters = "voters"
)

// Story is the record comments attach to. Username is a denormalized copy
// of the author's display name: its source of truth lives in an external
// user system, staleness is tolerated, and RefreshUsername brings it up to
// date out of band with no synchronous consistency guarantee.
type Story struct {
	ID        string
	Title     string
	Username  string
	Votes     int64
	Voters    []string
	CreatedAt time.Time
}

// Stories provides story record access over one collection.
type Stories struct {
	store      *store.Store
	collection string
}

// NewStories creates story access over the given collection.
func NewStories(s *store.Store, collection string) *Stories {
	return &Stories{store: s, collection: collection}
}

// Create persists a new story with zero votes and returns its key.
func (s *Stories) Create(ctx context.Context, title, username string) (string, error) {
	rec := &store.Record{
		Fields: store.Fields{
			FieldTitle:    title,
			FieldUsername: username,
			FieldVotes:    int64(0),
			FieldVoters:   []string{},
		},
	}
	return s.store.Put(ctx, s.collection, rec)
}

// Get returns a story by key.
func (s *Stories) Get(ctx context.Context, key string) (*Story, error) {
	rec, err := s.store.Get(ctx, s.collection, key)
	if err != nil {
		return nil, err
	}
	return &Story{
		ID:        rec.ID,
		Title:     rec.Fields.String(FieldTitle),
		Username:  rec.Fields.String(FieldUsername),
		Votes:     rec.Fields.Int(FieldVotes),
		Voters:    rec.Fields.Keys(FieldVoters),
		CreatedAt: rec.CreatedAt,
	}, nil
}

// RefreshUsername overwrites the cached username copy. Callers run this
// when the authoritative user record changes; readers in between see the
// stale value, which is within the field's eventual-consistency contract.
func (s *Stories) RefreshUsername(ctx context.Context, key, username string) error {
	return s.store.ConditionalUpdate(ctx, s.collection, key,
		store.Condition{Kind: store.CondNone},
		[]store.Op{store.Set(FieldUsername, username)},
		store.AckSync,
	)
}
