package core

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/seckatie/betulon/internal/mastodon"
)

// Source serves one page of bookmarks at a time. *mastodon.Client implements it.
type Source interface {
	Bookmarks(ctx context.Context, p mastodon.PageParams) (*mastodon.Page, error)
}

// BookmarkFetcher is what the sync driver needs from the remote side.
type BookmarkFetcher interface {
	HighWaterMark(ctx context.Context) (int64, error)
	Fetch(ctx context.Context, lowWater int64) ([]mastodon.Status, error)
}

// Fetcher pages through a Source.
type Fetcher struct {
	source Source
	logger *log.Logger
}

func NewFetcher(source Source, logger *log.Logger) *Fetcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Fetcher{source: source, logger: logger.WithPrefix("fetch")}
}

// HighWaterMark returns the id the server offers for "bookmarks newer than
// the most recent page", or 0 when there are no bookmarks. The value is a
// snapshot: it moves as soon as the user bookmarks something.
func (f *Fetcher) HighWaterMark(ctx context.Context) (int64, error) {
	page, err := f.source.Bookmarks(ctx, mastodon.PageParams{})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch latest bookmarks: %w", err)
	}
	return page.PrevMinID, nil
}

// Fetch returns every bookmark newer than lowWater, newest first. A lowWater
// of 0 fetches the whole collection.
func (f *Fetcher) Fetch(ctx context.Context, lowWater int64) ([]mastodon.Status, error) {
	if lowWater <= 0 {
		return f.fetchAll(ctx)
	}
	return f.fetchNewer(ctx, lowWater)
}

// fetchAll walks rel="next" from the most recent page to the oldest.
func (f *Fetcher) fetchAll(ctx context.Context) ([]mastodon.Status, error) {
	page, err := f.source.Bookmarks(ctx, mastodon.PageParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bookmarks: %w", err)
	}
	out := append([]mastodon.Status(nil), page.Statuses...)
	pages := 1

	for len(page.Statuses) > 0 && page.NextMaxID > 0 {
		cursor := page.NextMaxID
		page, err = f.source.Bookmarks(ctx, mastodon.PageParams{MaxID: cursor})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bookmarks older than %d: %w", cursor, err)
		}
		if page.NextMaxID >= cursor {
			return nil, fmt.Errorf("pagination did not advance past max_id %d", cursor)
		}
		out = append(out, page.Statuses...)
		pages++
	}

	f.logger.Info("fetched full collection", "bookmarks", len(out), "pages", pages)
	return out, nil
}

// fetchNewer starts at the page just above lowWater and walks rel="prev"
// until an empty page. Later pages are newer, so they are placed first.
func (f *Fetcher) fetchNewer(ctx context.Context, lowWater int64) ([]mastodon.Status, error) {
	var pages [][]mastodon.Status
	cursor := lowWater
	for {
		page, err := f.source.Bookmarks(ctx, mastodon.PageParams{MinID: cursor})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch bookmarks newer than %d: %w", cursor, err)
		}
		if len(page.Statuses) == 0 {
			break
		}
		pages = append(pages, page.Statuses)
		if page.PrevMinID == 0 {
			break
		}
		if page.PrevMinID <= cursor {
			return nil, fmt.Errorf("pagination did not advance past min_id %d", cursor)
		}
		cursor = page.PrevMinID
	}

	var out []mastodon.Status
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	f.logger.Info("fetched new bookmarks", "since", lowWater, "bookmarks", len(out), "pages", len(pages))
	return out, nil
}
