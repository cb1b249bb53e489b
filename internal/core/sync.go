package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/seckatie/betulon/internal/core/db"
	"github.com/seckatie/betulon/internal/core/state"
)

// ErrSyncDeferred is returned when new bookmarks kept arriving during every
// attempt. Nothing was written; the next run starts from the same cursor.
var ErrSyncDeferred = errors.New("sync deferred: bookmarks changed during every attempt")

// BookmarkWriter persists a fetched batch. *db.DB implements it.
type BookmarkWriter interface {
	InsertBookmarks(ctx context.Context, bookmarks []db.Bookmark, extraTags []string) (int, error)
}

// CursorStore persists the sync cursor. *state.Store implements it.
type CursorStore interface {
	Read(name string) (state.Cursor, bool, error)
	Write(c state.Cursor, name string) error
}

// SyncOptions tunes a Syncer. Zero values pick the defaults.
type SyncOptions struct {
	// CursorName is the state file name. Defaults to state.CursorFile.
	CursorName string
	// ExtraTags are stored on every post ahead of its own tags.
	// nil means []string{SourceTag}.
	ExtraTags []string
	// MaxAttempts bounds the number of cycles when bookmarks change mid-fetch.
	MaxAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// DryRun stops after verification: no rows, no cursor.
	DryRun bool
}

// SyncResult describes a finished Run.
type SyncResult struct {
	Attempts      int
	Fetched       int
	Inserted      int
	PreviousMinID int64
	MinID         int64
	FullSync      bool
	DryRun        bool
	// Bookmarks holds the normalized batch, newest first.
	Bookmarks []db.Bookmark
}

// Syncer runs race-safe sync cycles.
type Syncer struct {
	fetcher BookmarkFetcher
	writer  BookmarkWriter
	store   CursorStore
	opts    SyncOptions
	logger  *log.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewSyncer(fetcher BookmarkFetcher, writer BookmarkWriter, store CursorStore, opts SyncOptions, logger *log.Logger) *Syncer {
	if opts.CursorName == "" {
		opts.CursorName = state.CursorFile
	}
	if opts.ExtraTags == nil {
		opts.ExtraTags = []string{SourceTag}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Syncer{
		fetcher: fetcher,
		writer:  writer,
		store:   store,
		opts:    opts,
		logger:  logger.WithPrefix("sync"),
		sleep:   sleepContext,
	}
}

// Run performs one sync. Each attempt snapshots the high-water-mark, fetches
// everything above the stored cursor, and re-reads the high-water-mark. Only
// an unchanged mark lets the batch be written, after which the snapshot
// becomes the new cursor. A changed mark discards the batch and retries.
func (s *Syncer) Run(ctx context.Context) (SyncResult, error) {
	stored, ok, err := s.store.Read(s.opts.CursorName)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to read sync cursor: %w", err)
	}
	lowWater := int64(0)
	if ok {
		lowWater = stored.MinID
	}

	res := SyncResult{PreviousMinID: lowWater, FullSync: lowWater <= 0, DryRun: s.opts.DryRun}
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		logger := s.logger.With("attempt", attempt)

		candidate, err := s.fetcher.HighWaterMark(ctx)
		if err != nil {
			return res, err
		}

		statuses, err := s.fetcher.Fetch(ctx, lowWater)
		if err != nil {
			return res, err
		}
		bookmarks := NormalizeAll(statuses)

		current, err := s.fetcher.HighWaterMark(ctx)
		if err != nil {
			return res, err
		}
		if current != candidate {
			logger.Warn("bookmarks changed during fetch, discarding batch",
				"snapshot", candidate, "current", current, "fetched", len(bookmarks))
			if attempt < s.opts.MaxAttempts {
				if err := s.sleep(ctx, s.opts.RetryDelay); err != nil {
					return res, err
				}
			}
			continue
		}

		res.Fetched = len(bookmarks)
		res.Bookmarks = bookmarks
		res.MinID = max(candidate, lowWater)
		if s.opts.DryRun {
			logger.Info("dry run, nothing written", "fetched", res.Fetched, "min_id", res.MinID)
			return res, nil
		}

		inserted, err := s.writer.InsertBookmarks(ctx, bookmarks, s.opts.ExtraTags)
		if err != nil {
			return res, fmt.Errorf("failed to store bookmarks: %w", err)
		}
		res.Inserted = inserted

		if err := s.store.Write(state.Cursor{MinID: res.MinID}, s.opts.CursorName); err != nil {
			return res, fmt.Errorf("failed to write sync cursor: %w", err)
		}

		logger.Info("sync complete", "inserted", inserted, "previous_min_id", lowWater, "min_id", res.MinID, "full", res.FullSync)
		return res, nil
	}

	res.MinID = lowWater
	return res, fmt.Errorf("%w (%d attempts)", ErrSyncDeferred, s.opts.MaxAttempts)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
