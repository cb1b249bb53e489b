package core

import (
	"context"
	"errors"
	"testing"

	"github.com/seckatie/betulon/internal/mastodon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHighWaterMark(t *testing.T) {
	t.Run("newest bookmark id", func(t *testing.T) {
		f := NewFetcher(newFakeSource(3, 1, 2, 5), nil)

		hwm, err := f.HighWaterMark(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(5), hwm)
	})

	t.Run("zero for an empty collection", func(t *testing.T) {
		f := NewFetcher(newFakeSource(3), nil)

		hwm, err := f.HighWaterMark(context.Background())
		require.NoError(t, err)
		assert.Zero(t, hwm)
	})

	t.Run("moves when a bookmark is added", func(t *testing.T) {
		src := newFakeSource(3, 1, 2)
		f := NewFetcher(src, nil)

		before, err := f.HighWaterMark(context.Background())
		require.NoError(t, err)
		src.add(3)
		after, err := f.HighWaterMark(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, before, after)
	})

	t.Run("wraps source errors", func(t *testing.T) {
		src := newFakeSource(3, 1)
		src.failOn, src.err = 1, errors.New("network down")

		_, err := NewFetcher(src, nil).HighWaterMark(context.Background())
		assert.ErrorIs(t, err, src.err)
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("full fetch walks every page", func(t *testing.T) {
		src := newFakeSource(3, 1, 2, 3, 4, 5, 6, 7)

		got, err := NewFetcher(src, nil).Fetch(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"7", "6", "5", "4", "3", "2", "1"}, statusIDs(got))
		// three full pages, then the empty page that ends the walk
		assert.Equal(t, 4, src.calls)
	})

	t.Run("empty collection", func(t *testing.T) {
		got, err := NewFetcher(newFakeSource(3), nil).Fetch(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("incremental fetch is newest first", func(t *testing.T) {
		src := newFakeSource(3, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)

		got, err := NewFetcher(src, nil).Fetch(ctx, 4)
		require.NoError(t, err)
		assert.Equal(t, []string{"11", "10", "9", "8", "7", "6", "5"}, statusIDs(got))
	})

	t.Run("incremental fetch with nothing new", func(t *testing.T) {
		src := newFakeSource(3, 1, 2, 3)

		got, err := NewFetcher(src, nil).Fetch(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, 1, src.calls)
	})

	t.Run("incremental fetch stops without a prev link", func(t *testing.T) {
		src := &stubSource{pages: []*mastodon.Page{
			{Statuses: []mastodon.Status{testStatus(9), testStatus(8)}},
		}}

		got, err := NewFetcher(src, nil).Fetch(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []string{"9", "8"}, statusIDs(got))
		assert.Equal(t, 1, src.calls)
	})

	t.Run("errors mid-pagination abort the fetch", func(t *testing.T) {
		src := newFakeSource(2, 1, 2, 3, 4, 5)
		src.failOn, src.err = 2, errors.New("rate limited")

		got, err := NewFetcher(src, nil).Fetch(ctx, 0)
		assert.ErrorIs(t, err, src.err)
		assert.Nil(t, got)
	})

	t.Run("refuses pagination that does not advance", func(t *testing.T) {
		stuck := &mastodon.Page{Statuses: []mastodon.Status{testStatus(9)}, PrevMinID: 5}
		src := &stubSource{pages: []*mastodon.Page{stuck}}

		_, err := NewFetcher(src, nil).Fetch(ctx, 7)
		assert.ErrorContains(t, err, "did not advance")
	})
}

// stubSource replays fixed pages, repeating the last one.
type stubSource struct {
	pages []*mastodon.Page
	calls int
}

func (s *stubSource) Bookmarks(context.Context, mastodon.PageParams) (*mastodon.Page, error) {
	s.calls++
	i := min(s.calls, len(s.pages)) - 1
	return s.pages[i], nil
}
