package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID        string    `bson:"_id,omitempty"`
	Name      string    `bson:"name"`
	Status    string    `bson:"status"`
	Rank      int       `bson:"rank"`
	Tags      []string  `bson:"tags"`
	Owner     string    `bson:"owner"`
	UpdatedAt time.Time `bson:"updated_at,omitempty"`
}

const widgets = "widgets"

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("AddGet", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Add(ctx, widgets, widget{Name: "a", Status: "active", Rank: 1})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		var got widget
		require.NoError(t, s.Get(ctx, widgets, id, &got))
		assert.Equal(t, id, got.ID)
		assert.Equal(t, "a", got.Name)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		var got widget
		assert.ErrorIs(t, s.Get(ctx, widgets, "nope", &got), ErrNotFound)
	})

	t.Run("SetMergeKeepsOtherFields", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, widgets, "w1", widget{Name: "a", Status: "active", Rank: 3}, false))
		require.NoError(t, s.Set(ctx, widgets, "w1", Fields{"status": "closed", "updated_at": ServerTimestamp}, true))

		var got widget
		require.NoError(t, s.Get(ctx, widgets, "w1", &got))
		assert.Equal(t, "a", got.Name)
		assert.Equal(t, "closed", got.Status)
		assert.Equal(t, 3, got.Rank)
		assert.False(t, got.UpdatedAt.IsZero())
	})

	t.Run("SetReplace", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, widgets, "w1", widget{Name: "a", Rank: 3}, false))
		require.NoError(t, s.Set(ctx, widgets, "w1", Fields{"name": "b"}, false))

		var got widget
		require.NoError(t, s.Get(ctx, widgets, "w1", &got))
		assert.Equal(t, "b", got.Name)
		assert.Zero(t, got.Rank)
	})

	t.Run("QueryFiltersOrderLimit", func(t *testing.T) {
		s := newStore(t)
		for i, st := range []string{"active", "closed", "active", "active"} {
			_, err := s.Add(ctx, widgets, widget{Name: string(rune('a' + i)), Status: st, Rank: i, Tags: []string{"t" + st}})
			require.NoError(t, err)
		}

		var active []widget
		require.NoError(t, s.Query(ctx, widgets, Query{
			Filters:    []Filter{Where("status", OpEq, "active")},
			OrderBy:    "rank",
			Descending: true,
			Limit:      2,
		}, &active))
		require.Len(t, active, 2)
		assert.Equal(t, 3, active[0].Rank)
		assert.Equal(t, 2, active[1].Rank)

		var page []widget
		require.NoError(t, s.Query(ctx, widgets, Query{
			Filters:    []Filter{Where("status", OpEq, "active")},
			OrderBy:    "rank",
			Descending: true,
			StartAfter: 2,
		}, &page))
		require.Len(t, page, 1)
		assert.Equal(t, 0, page[0].Rank)

		var in []widget
		require.NoError(t, s.Query(ctx, widgets, Query{Filters: []Filter{Where("rank", OpIn, []int{1, 2})}}, &in))
		assert.Len(t, in, 2)

		var tagged []widget
		require.NoError(t, s.Query(ctx, widgets, Query{Filters: []Filter{Where("tags", OpContains, "tclosed")}}, &tagged))
		require.Len(t, tagged, 1)
		assert.Equal(t, "closed", tagged[0].Status)

		var ranged []widget
		require.NoError(t, s.Query(ctx, widgets, Query{Filters: []Filter{
			Where("rank", OpGte, 1), Where("rank", OpLt, 3),
		}}, &ranged))
		assert.Len(t, ranged, 2)
	})

	t.Run("UpdateWhere", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, widgets, "w1", widget{Name: "a", Status: "active", Owner: ""}, false))

		ok, err := s.UpdateWhere(ctx, widgets, "w1", []Filter{Where("status", OpIn, []string{"active", "pending"})}, Fields{"status": "accepted"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.UpdateWhere(ctx, widgets, "w1", []Filter{Where("status", OpEq, "active")}, Fields{"status": "rejected"})
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.UpdateWhere(ctx, widgets, "missing", nil, Fields{"status": "x"})
		require.NoError(t, err)
		assert.False(t, ok)

		var got widget
		require.NoError(t, s.Get(ctx, widgets, "w1", &got))
		assert.Equal(t, "accepted", got.Status)
	})

	t.Run("UpdateWhereIsExclusive", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, widgets, "w1", widget{Name: "a", Owner: ""}, false))

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.UpdateWhere(ctx, widgets, "w1", []Filter{Where("owner", OpEq, "")}, Fields{"owner": string(rune('a' + i))})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("AddExplicitIDTwice", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Add(ctx, widgets, widget{ID: "W1", Name: "a"})
		require.NoError(t, err)
		assert.Equal(t, "W1", id)

		_, err = s.Add(ctx, widgets, widget{ID: "W1", Name: "b"})
		assert.ErrorIs(t, err, ErrDuplicateID)

		var got widget
		require.NoError(t, s.Get(ctx, widgets, "W1", &got))
		assert.Equal(t, "a", got.Name)
	})

	t.Run("QueryPagesThroughTies", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			_, err := s.Add(ctx, widgets, widget{Name: string(rune('a' + i)), Status: "active", Rank: 7})
			require.NoError(t, err)
		}
		_, err := s.Add(ctx, widgets, widget{Name: "z", Status: "active", Rank: 1})
		require.NoError(t, err)

		seen := map[string]bool{}
		q := Query{
			Filters:    []Filter{Where("status", OpEq, "active")},
			OrderBy:    "rank",
			Descending: true,
			Limit:      2,
		}
		for pages := 0; pages < 10; pages++ {
			var page []widget
			require.NoError(t, s.Query(ctx, widgets, q, &page))
			for _, w := range page {
				assert.False(t, seen[w.ID], "widget %s returned twice", w.ID)
				seen[w.ID] = true
			}
			if len(page) < q.Limit {
				break
			}
			last := page[len(page)-1]
			q.StartAfter, q.StartAfterID = last.Rank, last.ID
		}
		assert.Len(t, seen, 6)
	})
}
