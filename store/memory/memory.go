// Package memory provides an in-memory store.Backend for embedding and
// tests. Every write and its index updates happen inside one critical
// section, so no record is ever observable written-but-unindexed.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jacentio/arbor/store"
)

// Config holds configuration for the in-memory backend.
type Config struct {
	// Indexes declares the secondary indexes to maintain. Lookups against
	// undeclared fields fail rather than falling back to a full scan.
	Indexes []store.IndexSpec
}

// Store is an in-memory implementation of store.Backend.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	indexes     map[string][]store.IndexSpec
}

type collection struct {
	docs map[string]*store.Record
	seq  int64

	// membership: field -> member key -> set of record keys.
	membership map[string]map[string]map[string]struct{}

	// partitions: field -> partition value -> record keys in insertion order.
	partitions map[string]map[string][]string
}

// New creates a new in-memory backend with the declared indexes.
func New(config Config) *Store {
	s := &Store{
		collections: make(map[string]*collection),
		indexes:     make(map[string][]store.IndexSpec),
	}
	for _, spec := range config.Indexes {
		s.indexes[spec.Collection] = append(s.indexes[spec.Collection], spec)
	}
	return s
}

func (s *Store) collection(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{
			docs:       make(map[string]*store.Record),
			membership: make(map[string]map[string]map[string]struct{}),
			partitions: make(map[string]map[string][]string),
		}
		s.collections[name] = c
	}
	return c
}

// Get returns a copy of the record at key, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, key string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec, ok := c.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec.Clone(), nil
}

// Put stores a new record and updates declared indexes in the same critical
// section. Returns store.ErrDuplicateKey if the key is already in use.
func (s *Store) Put(ctx context.Context, collection string, rec *store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if _, exists := c.docs[rec.ID]; exists {
		return store.ErrDuplicateKey
	}

	c.seq++
	rec.Seq = c.seq

	stored := rec.Clone()
	c.docs[stored.ID] = stored
	s.indexRecord(collection, c, stored)
	return nil
}

// ConditionalUpdate atomically evaluates cond and applies ops under the
// store lock. A missing record and a failed predicate are both
// store.ErrNotMatched.
func (s *Store) ConditionalUpdate(ctx context.Context, collection, key string, cond store.Condition, ops []store.Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return store.ErrNotMatched
	}
	rec, ok := c.docs[key]
	if !ok {
		return store.ErrNotMatched
	}
	if !cond.Matches(rec) {
		return store.ErrNotMatched
	}

	store.ApplyOps(rec, ops)
	s.indexRecord(collection, c, rec)
	return nil
}

// LookupEquals returns keys of records whose indexed field matches member,
// in insertion order.
func (s *Store) LookupEquals(ctx context.Context, collection, field, member string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specFor(collection, field)
	if !ok {
		return nil, fmt.Errorf("memory: no index declared for %s.%s", collection, field)
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	var keys []string
	switch spec.Kind {
	case store.IndexMembership:
		for key := range c.membership[field][member] {
			keys = append(keys, key)
		}
	case store.IndexPartition:
		keys = append(keys, c.partitions[field][member]...)
	}

	sort.Slice(keys, func(i, j int) bool {
		return c.seqOf(keys[i]) < c.seqOf(keys[j])
	})
	return keys, nil
}

func (c *collection) seqOf(key string) int64 {
	if rec, ok := c.docs[key]; ok {
		return rec.Seq
	}
	return 0
}

// RangeScan returns the records of one partition ordered by (OrderAsc asc,
// OrderDesc desc, insertion sequence). The whole result comes from a single
// pass over the partition's index entry.
func (s *Store) RangeScan(ctx context.Context, collection string, q store.RangeQuery) ([]*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.specFor(collection, q.Field)
	if !ok || spec.Kind != store.IndexPartition {
		return nil, fmt.Errorf("memory: no partition index declared for %s.%s", collection, q.Field)
	}

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	keys := c.partitions[q.Field][q.Value]
	recs := make([]*store.Record, 0, len(keys))
	for _, key := range keys {
		if rec, ok := c.docs[key]; ok {
			recs = append(recs, rec.Clone())
		} else {
			return nil, fmt.Errorf("%w: %s.%s indexes missing key %s",
				store.ErrIndexInconsistency, collection, q.Field, key)
		}
	}

	sortRecords(recs, q)
	return recs, nil
}

func sortRecords(recs []*store.Record, q store.RangeQuery) {
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
}

// indexRecord brings all declared index entries for rec up to date.
// Membership adds are idempotent; partition entries are append-once because
// partition fields are immutable after creation.
func (s *Store) indexRecord(collectionName string, c *collection, rec *store.Record) {
	for _, spec := range s.indexes[collectionName] {
		switch spec.Kind {
		case store.IndexMembership:
			byMember := c.membership[spec.Field]
			if byMember == nil {
				byMember = make(map[string]map[string]struct{})
				c.membership[spec.Field] = byMember
			}
			for _, member := range rec.Fields.Keys(spec.Field) {
				set := byMember[member]
				if set == nil {
					set = make(map[string]struct{})
					byMember[member] = set
				}
				set[rec.ID] = struct{}{}
			}
		case store.IndexPartition:
			value := rec.Fields.String(spec.Field)
			byValue := c.partitions[spec.Field]
			if byValue == nil {
				byValue = make(map[string][]string)
				c.partitions[spec.Field] = byValue
			}
			if !containsKey(byValue[value], rec.ID) {
				byValue[value] = append(byValue[value], rec.ID)
			}
		}
	}
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (s *Store) specFor(collection, field string) (store.IndexSpec, bool) {
	for _, spec := range s.indexes[collection] {
		if spec.Field == field {
			return spec, true
		}
	}
	return store.IndexSpec{}, false
}
