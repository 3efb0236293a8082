// Package thread manages threaded comment trees stored with materialized
// paths.
//
// Each comment carries a path of colon-joined ancestor keys and a depth,
// both computed exactly once at creation, before the record becomes visible
// to readers, and never mutated afterwards. Reads reconstruct a story's
// whole forest from a single index range scan; no per-node queries.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jacentio/arbor/store"
)

// Field names of a comment record.
const (
	FieldBody     = "body"
	FieldParentID = "parent_id"
	FieldDepth    = "depth"
	FieldPath     = "path"
	FieldStoryID  = "story_id"
	FieldUsername = "username"
)

// PathSeparator joins ancestor keys in a comment's materialized path.
const PathSeparator = ":"

// Comment is one node of a story's comment forest.
type Comment struct {
	ID        string
	Body      string
	ParentID  string // empty for root comments
	Depth     int64
	Path      string
	StoryID   string
	Username  string
	CreatedAt time.Time
}

// Node is a comment with its ordered children.
type Node struct {
	Comment  *Comment
	Children []*Node
}

// Manager creates comments and reconstructs trees.
type Manager struct {
	store      *store.Store
	collection string
	logger     *slog.Logger
}

// NewManager creates a tree manager over the given comment collection.
func NewManager(s *store.Store, collection string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      s,
		collection: collection,
		logger:     logger,
	}
}

// PartitionIndex returns the index declaration backends need so that
// FetchTree can scan one story's comments, path-ordered, in one query.
func PartitionIndex(collection string) store.IndexSpec {
	return store.IndexSpec{
		Collection: collection,
		Field:      FieldStoryID,
		Kind:       store.IndexPartition,
		SortField:  FieldPath,
	}
}

// CreateInput carries the caller-supplied parts of a new comment.
type CreateInput struct {
	Body     string
	ParentID string // empty for a root comment
	StoryID  string // required when ParentID is empty, derived otherwise
	Username string // denormalized display copy; authoritative source elsewhere
}

// Create places a comment: it derives story_id, depth, and path from the
// parent (one read), then persists the record (one write). The derived
// fields are frozen; the tree shape is append-only.
//
// Returns store.ErrParentNotFound when ParentID references a missing
// comment; nothing is persisted in that case.
func (m *Manager) Create(ctx context.Context, in CreateInput) (string, error) {
	if strings.TrimSpace(in.Body) == "" {
		return "", fmt.Errorf("thread: comment body cannot be empty")
	}

	var depth int64
	path := ""
	storyID := in.StoryID

	if in.ParentID != "" {
		parent, err := m.store.Get(ctx, m.collection, in.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", store.ErrParentNotFound
			}
			return "", fmt.Errorf("read parent: %w", err)
		}
		depth = parent.Fields.Int(FieldDepth) + 1
		path = parent.Fields.String(FieldPath) + PathSeparator + parent.ID
		storyID = parent.Fields.String(FieldStoryID)
	} else if storyID == "" {
		return "", fmt.Errorf("thread: story id required for a root comment")
	}

	rec := &store.Record{
		Fields: store.Fields{
			FieldBody:     in.Body,
			FieldParentID: in.ParentID,
			FieldDepth:    depth,
			FieldPath:     path,
			FieldStoryID:  storyID,
			FieldUsername: in.Username,
		},
	}

	key, err := m.store.Put(ctx, m.collection, rec)
	if err != nil {
		return "", err
	}

	m.logger.Debug("comment placed",
		"key", key,
		"story", storyID,
		"depth", depth,
	)
	return key, nil
}

// Get returns a single comment by key.
func (m *Manager) Get(ctx context.Context, key string) (*Comment, error) {
	rec, err := m.store.Get(ctx, m.collection, key)
	if err != nil {
		return nil, err
	}
	return commentFromRecord(rec), nil
}

// FetchTree reconstructs the ordered comment forest of one story from a
// single index range scan. Siblings are ordered by sortField descending,
// ties broken by creation order; children group under their parent by
// parent-key equality (the path is a sort aid, not the grouping mechanism).
//
// Writers completing mid-scan may or may not appear; the result is a
// consistent snapshot as of scan start.
func (m *Manager) FetchTree(ctx context.Context, storyID, sortField string) ([]*Node, error) {
	recs, err := m.store.RangeScan(ctx, m.collection, store.RangeQuery{
		Field:     FieldStoryID,
		Value:     storyID,
		OrderAsc:  FieldPath,
		OrderDesc: sortField,
	})
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(recs))
	for _, rec := range recs {
		nodes[rec.ID] = &Node{Comment: commentFromRecord(rec)}
	}

	// Records arrive path-major: every parent's path group sorts before its
	// children's, so appending in scan order preserves sibling order.
	var roots []*Node
	for _, rec := range recs {
		node := nodes[rec.ID]
		parentID := node.Comment.ParentID
		if parentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[parentID]
		if !ok {
			// Parent outside the snapshot; a comment is always written
			// after its parent, so this indicates a diverged index.
			m.logger.Warn("comment parent missing from scan",
				"comment", node.Comment.ID,
				"parent", parentID,
				"story", storyID,
			)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots, nil
}

func commentFromRecord(rec *store.Record) *Comment {
	return &Comment{
		ID:        rec.ID,
		Body:      rec.Fields.String(FieldBody),
		ParentID:  rec.Fields.String(FieldParentID),
		Depth:     rec.Fields.Int(FieldDepth),
		Path:      rec.Fields.String(FieldPath),
		StoryID:   rec.Fields.String(FieldStoryID),
		Username:  rec.Fields.String(FieldUsername),
		CreatedAt: rec.CreatedAt,
	}
}

// Ancestors splits the comment's materialized path into ancestor keys,
// oldest first. Root comments return nil.
func (c *Comment) Ancestors() []string {
	if c.Path == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(c.Path, PathSeparator), PathSeparator)
}
