package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store provides document operations over a Backend, assigning fresh keys
// on put and plumbing the write acknowledgment mode.
type Store struct {
	backend Backend
	config  Config
	logger  *slog.Logger
}

// New creates a new Store instance.
func New(backend Backend, config Config) *Store {
	config.validate()
	return &Store{
		backend: backend,
		config:  config,
		logger:  slog.Default(),
	}
}

// NewWithLogger creates a new Store instance with a custom logger. The
// logger only receives outcomes of fire-and-forget writes.
func NewWithLogger(backend Backend, config Config, logger *slog.Logger) *Store {
	s := New(backend, config)
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Backend returns the underlying storage boundary.
func (s *Store) Backend() Backend {
	return s.backend
}

// Get retrieves a record by key, returning ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, collection, key string) (*Record, error) {
	return s.backend.Get(ctx, collection, key)
}

// Put stores a new record and returns its key. When rec.ID is empty a fresh
// UUID key is assigned; a caller-supplied key that already exists fails with
// ErrDuplicateKey. Declared indexes are updated before Put returns.
func (s *Store) Put(ctx context.Context, collection string, rec *Record) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Version = 1

	if err := s.backend.Put(ctx, collection, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// ConditionalUpdate atomically evaluates cond against the record at key and,
// only if it matches, applies ops as one indivisible step. Returns
// ErrNotMatched when the predicate fails or the record is missing.
//
// With AckNone the update is dispatched and the call returns nil
// immediately; the eventual outcome is logged (ErrNotMatched at debug, real
// failures at error) and never returned.
func (s *Store) ConditionalUpdate(ctx context.Context, collection, key string, cond Condition, ops []Op, ack AckMode) error {
	if ack != AckSync && ack != AckNone {
		ack = s.config.DefaultAck
	}

	if ack == AckSync {
		return s.backend.ConditionalUpdate(ctx, collection, key, cond, ops)
	}

	// Fire-and-forget: detach from the caller's cancellation but keep its
	// values, then report the outcome through the logger only.
	bg := context.WithoutCancel(ctx)
	go func() {
		err := s.backend.ConditionalUpdate(bg, collection, key, cond, ops)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotMatched):
			s.logger.Debug("conditional update not matched",
				"collection", collection,
				"key", key,
			)
		default:
			s.logger.Error("fire-and-forget update failed",
				"collection", collection,
				"key", key,
				"error", err,
			)
		}
	}()
	return nil
}

// LookupEquals returns the keys of records whose indexed field matches
// member, e.g. all stories whose voters list contains a given user key.
func (s *Store) LookupEquals(ctx context.Context, collection, field, member string) ([]string, error) {
	return s.backend.LookupEquals(ctx, collection, field, member)
}

// RangeScan returns the records in a partition, fully ordered per the
// query, from a single index range scan.
func (s *Store) RangeScan(ctx context.Context, collection string, q RangeQuery) ([]*Record, error) {
	return s.backend.RangeScan(ctx, collection, q)
}
