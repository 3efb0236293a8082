package vote_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/store/memory"
	"github.com/jacentio/arbor/vote"
)

func newTestEngine(t *testing.T) (*vote.Engine, *store.Store, string) {
	t.Helper()
	backend := memory.New(memory.Config{
		Indexes: []store.IndexSpec{
			vote.MembershipIndex("stories", "voters"),
		},
	})
	s := store.New(backend, store.DefaultConfig())

	key, err := s.Put(context.Background(), "stories", &store.Record{
		ID:     "S1",
		Fields: store.Fields{"votes": int64(0), "voters": []string{}},
	})
	require.NoError(t, err)

	return vote.NewEngine(s, "stories", nil), s, key
}

func TestApplyIfAbsent_Scenario(t *testing.T) {
	engine, s, key := newTestEngine(t)
	ctx := context.Background()

	// First vote by U1 applies.
	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters"))
	rec, err := s.Get(ctx, "stories", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Fields.Int("votes"))
	assert.Equal(t, []string{"U1"}, rec.Fields.Keys("voters"))

	// Second vote by U1 is not matched; counter unchanged.
	err = engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters")
	assert.ErrorIs(t, err, store.ErrNotMatched)
	rec, err = s.Get(ctx, "stories", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Fields.Int("votes"))

	// A different member applies.
	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U2", "votes", "voters"))
	rec, err = s.Get(ctx, "stories", key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Fields.Int("votes"))
	assert.Equal(t, []string{"U1", "U2"}, rec.Fields.Keys("voters"))
}

func TestApplyIfAbsent_MissingRecord(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.ApplyIfAbsent(context.Background(), "missing", "U1", "votes", "voters")
	assert.ErrorIs(t, err, store.ErrNotMatched)
}

func TestApplyIfAbsent_ConcurrentDistinctMembers(t *testing.T) {
	engine, s, key := newTestEngine(t)
	ctx := context.Background()

	const k = 64
	var wg sync.WaitGroup
	errs := make(chan error, k)

	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- engine.ApplyIfAbsent(ctx, key, fmt.Sprintf("U%d", i), "votes", "voters")
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := s.Get(ctx, "stories", key)
	require.NoError(t, err)
	assert.Equal(t, int64(k), rec.Fields.Int("votes"), "no lost updates")
	assert.Len(t, rec.Fields.Keys("voters"), k)
}

func TestApplyIfAbsent_ConcurrentSameMember(t *testing.T) {
	engine, s, key := newTestEngine(t)
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters")
		}()
	}
	wg.Wait()
	close(results)

	applied := 0
	for err := range results {
		if err == nil {
			applied++
		} else {
			require.ErrorIs(t, err, store.ErrNotMatched)
		}
	}
	assert.Equal(t, 1, applied, "exactly one concurrent vote by the same member wins")

	rec, err := s.Get(ctx, "stories", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Fields.Int("votes"))
}

func TestApplyIfAbsent_FireAndForget(t *testing.T) {
	engine, s, key := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters", vote.FireAndForget()))

	// Even a vote that will not match reports nil in this mode.
	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters", vote.FireAndForget()))

	assert.Eventually(t, func() bool {
		rec, err := s.Get(ctx, "stories", key)
		return err == nil && rec.Fields.Int("votes") == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestApplyIfAbsent_LogMessages(t *testing.T) {
	backend := memory.New(memory.Config{
		Indexes: []store.IndexSpec{
			vote.MembershipIndex("stories", "voters"),
		},
	})
	s := store.New(backend, store.DefaultConfig())
	ctx := context.Background()

	key, err := s.Put(ctx, "stories", &store.Record{
		Fields: store.Fields{"votes": int64(0), "voters": []string{}},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	engine := vote.NewEngine(s, "stories", logger)

	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters"))
	assert.Contains(t, buf.String(), "vote applied")

	// Fire-and-forget returns before the outcome is known, so the log must
	// not claim the vote applied.
	buf.Reset()
	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U2", "votes", "voters", vote.FireAndForget()))
	assert.Contains(t, buf.String(), "vote dispatched")
	assert.NotContains(t, buf.String(), "vote applied")
}

func TestVotedOn(t *testing.T) {
	engine, s, key := newTestEngine(t)
	ctx := context.Background()

	key2, err := s.Put(ctx, "stories", &store.Record{
		Fields: store.Fields{"votes": int64(0), "voters": []string{}},
	})
	require.NoError(t, err)

	require.NoError(t, engine.ApplyIfAbsent(ctx, key, "U1", "votes", "voters"))
	require.NoError(t, engine.ApplyIfAbsent(ctx, key2, "U1", "votes", "voters"))
	require.NoError(t, engine.ApplyIfAbsent(ctx, key2, "U2", "votes", "voters"))

	stories, err := engine.VotedOn(ctx, "U1", "voters")
	require.NoError(t, err)
	assert.Equal(t, []string{key, key2}, stories)

	stories, err = engine.VotedOn(ctx, "U2", "voters")
	require.NoError(t, err)
	assert.Equal(t, []string{key2}, stories)
}
