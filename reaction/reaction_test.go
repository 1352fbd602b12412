package reaction

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/ds"
	"github.com/jcgregorio/gamesite/post"
)

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"like", "love", "laugh", "wow", "fire", "gg"}, Kinds())
	assert.True(t, Valid("fire"))
	assert.False(t, Valid("thumbsdown"))
	assert.False(t, Valid(""))
	assert.Equal(t, "🎮", Emoji("gg"))
}

func TestDecide(t *testing.T) {
	testCases := []struct {
		prev, next string
		want       Change
	}{
		{"", "like", Change{Add: "like", Final: "like"}},
		{"like", "like", Change{Remove: "like"}},
		{"like", "fire", Change{Remove: "like", Add: "fire", Final: "fire"}},
		{"like", "", Change{Remove: "like"}},
		{"", "", Change{}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%q->%q", tc.prev, tc.next), func(t *testing.T) {
			assert.Equal(t, tc.want, Decide(tc.prev, tc.next))
		})
	}
}

func TestApply(t *testing.T) {
	counts := Counts{"like": 2, "fire": 1, "wow": 0}

	got := Apply(counts, Change{Remove: "fire", Add: "like", Final: "like"})
	assert.Equal(t, Counts{"like": 3}, got)
	// The input is not modified.
	assert.Equal(t, int64(1), counts["fire"])

	// Never below zero.
	assert.Equal(t, Counts{"like": 2, "fire": 1}, Apply(counts, Change{Remove: "laugh"}))
	assert.Equal(t, Counts{"gg": 1}, Apply(nil, Change{Add: "gg", Final: "gg"}))
}

func initForTesting(t *testing.T) (*Store, *post.Post) {
	ctx := context.Background()
	d, ok, err := ds.InitForTesting(ctx)
	if !ok {
		t.Skip("Firestore emulator is not available. Set FIRESTORE_EMULATOR_HOST to run these tests.")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	s := New(d)
	p := &post.Post{Title: "Devlog", Published: true}
	require.NoError(t, s.Posts.Put(ctx, p))
	return s, p
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	s, p := initForTesting(t)

	res, err := s.Toggle(ctx, p.ID, "alice", "like")
	require.NoError(t, err)
	assert.Equal(t, &Result{Counts: Counts{"like": 1}, Mine: "like"}, res)

	res, err = s.Toggle(ctx, p.ID, "bob", "like")
	require.NoError(t, err)
	assert.Equal(t, Counts{"like": 2}, res.Counts)

	// Last reaction wins.
	res, err = s.Toggle(ctx, p.ID, "alice", "fire")
	require.NoError(t, err)
	assert.Equal(t, Counts{"like": 1, "fire": 1}, res.Counts)
	assert.Equal(t, "fire", res.Mine)

	// Same reaction twice clears it.
	res, err = s.Toggle(ctx, p.ID, "alice", "fire")
	require.NoError(t, err)
	assert.Equal(t, Counts{"like": 1}, res.Counts)
	assert.Equal(t, "", res.Mine)

	mine, err := s.Mine(ctx, p.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "", mine)
	mine, err = s.Mine(ctx, p.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "like", mine)

	counts, err := s.Counts(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{"like": 1}, counts)

	_, err = s.Toggle(ctx, p.ID, "bob", "nope")
	assert.Equal(t, ErrInvalidKind, err)
	_, err = s.Toggle(ctx, "missing-post", "bob", "like")
	assert.Equal(t, ErrPostNotFound, err)
}

func TestToggle_Concurrent(t *testing.T) {
	ctx := context.Background()
	s, p := initForTesting(t)

	const users = 8
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Toggle(ctx, p.ID, fmt.Sprintf("user-%d", i), "gg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	counts, err := s.Counts(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, Counts{"gg": users}, counts)
}

func TestWatch(t *testing.T) {
	s, p := initForTesting(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	seen := make(chan Counts, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, p.ID, func(c Counts) error {
			seen <- c
			return nil
		})
	}()

	assert.Equal(t, Counts{}, <-seen)
	_, err := s.Toggle(ctx, p.ID, "alice", "wow")
	require.NoError(t, err)
	assert.Equal(t, Counts{"wow": 1}, <-seen)

	cancel()
	assert.NoError(t, <-done)
}
