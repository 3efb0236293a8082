package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/jacentio/arbor/store"
)

// VerifyIndexes recomputes the declared indexes of a collection from its
// documents and compares them with the live index structures. A divergence
// returns store.ErrIndexInconsistency; queries over the collection are
// untrusted until RebuildIndexes runs.
func (s *Store) VerifyIndexes(ctx context.Context, collection string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}

	want := s.computeIndexes(collection, c)
	if err := compareMembership(collection, want.membership, c.membership); err != nil {
		return err
	}
	return comparePartitions(collection, want.partitions, c.partitions)
}

// RebuildIndexes reconstructs all declared indexes of a collection from a
// full document scan, discarding the live structures. This is the recovery
// path after store.ErrIndexInconsistency.
func (s *Store) RebuildIndexes(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil
	}

	rebuilt := s.computeIndexes(collection, c)
	c.membership = rebuilt.membership
	c.partitions = rebuilt.partitions
	return nil
}

type indexState struct {
	membership map[string]map[string]map[string]struct{}
	partitions map[string]map[string][]string
}

// computeIndexes derives the expected index state from the documents alone.
// Partition entries come out in insertion-sequence order, matching what
// incremental maintenance would have produced.
func (s *Store) computeIndexes(collectionName string, c *collection) indexState {
	state := indexState{
		membership: make(map[string]map[string]map[string]struct{}),
		partitions: make(map[string]map[string][]string),
	}

	recs := make([]*store.Record, 0, len(c.docs))
	for _, rec := range c.docs {
		recs = append(recs, rec)
	}
	sortBySeq(recs)

	for _, spec := range s.indexes[collectionName] {
		switch spec.Kind {
		case store.IndexMembership:
			byMember := make(map[string]map[string]struct{})
			for _, rec := range recs {
				for _, member := range rec.Fields.Keys(spec.Field) {
					set := byMember[member]
					if set == nil {
						set = make(map[string]struct{})
						byMember[member] = set
					}
					set[rec.ID] = struct{}{}
				}
			}
			state.membership[spec.Field] = byMember
		case store.IndexPartition:
			byValue := make(map[string][]string)
			for _, rec := range recs {
				value := rec.Fields.String(spec.Field)
				byValue[value] = append(byValue[value], rec.ID)
			}
			state.partitions[spec.Field] = byValue
		}
	}
	return state
}

func sortBySeq(recs []*store.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Seq < recs[j].Seq
	})
}

func compareMembership(collection string, want, got map[string]map[string]map[string]struct{}) error {
	for field, byMember := range want {
		for member, keys := range byMember {
			for key := range keys {
				if _, ok := got[field][member][key]; !ok {
					return fmt.Errorf("%w: %s.%s missing entry %s -> %s",
						store.ErrIndexInconsistency, collection, field, member, key)
				}
			}
		}
	}
	for field, byMember := range got {
		for member, keys := range byMember {
			for key := range keys {
				if _, ok := want[field][member][key]; !ok {
					return fmt.Errorf("%w: %s.%s stale entry %s -> %s",
						store.ErrIndexInconsistency, collection, field, member, key)
				}
			}
		}
	}
	return nil
}

func comparePartitions(collection string, want, got map[string]map[string][]string) error {
	for field, byValue := range want {
		for value, keys := range byValue {
			gotKeys := got[field][value]
			if len(gotKeys) != len(keys) {
				return fmt.Errorf("%w: %s.%s partition %q has %d entries, store has %d",
					store.ErrIndexInconsistency, collection, field, value, len(gotKeys), len(keys))
			}
			for i := range keys {
				if keys[i] != gotKeys[i] {
					return fmt.Errorf("%w: %s.%s partition %q diverges at position %d",
						store.ErrIndexInconsistency, collection, field, value, i)
				}
			}
		}
	}
	for field, byValue := range got {
		for value, keys := range byValue {
			if len(keys) > 0 && len(want[field][value]) == 0 {
				return fmt.Errorf("%w: %s.%s stale partition %q",
					store.ErrIndexInconsistency, collection, field, value)
			}
		}
	}
	return nil
}
