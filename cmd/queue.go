/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/seckatie/betulon/internal/core"
	"github.com/seckatie/betulon/internal/core/db"
)

type postArchiver interface {
	ArchivePost(ctx context.Context, p db.Post) error
}

// archiveQueue feeds posts to a fixed set of archive workers.
type archiveQueue struct {
	posts chan db.Post
	wg    sync.WaitGroup

	mu     sync.Mutex
	result core.ArchiveRunResult
}

func startArchiveQueue(ctx context.Context, archiver postArchiver, workers int, logger *log.Logger) *archiveQueue {
	if workers < 1 {
		workers = 1
	}
	q := &archiveQueue{posts: make(chan db.Post, workers*10)}
	for i := range workers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			wlog := logger.With("worker", i)
			for p := range q.posts {
				// After an interrupt the remaining posts stay unarchived
				// instead of being recorded as failed captures.
				if ctx.Err() != nil {
					wlog.Debug("skipping archive, shutting down", "id", p.ID)
					continue
				}
				err := archiver.ArchivePost(ctx, p)
				if err != nil {
					wlog.Warn("archive failed", "id", p.ID, "url", p.URL, "err", err)
				} else {
					wlog.Debug("archived", "id", p.ID)
				}
				q.record(err)
			}
		}()
	}
	return q
}

func (q *archiveQueue) record(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.result.Attempted++
	if err != nil {
		q.result.Failed++
	} else {
		q.result.Succeeded++
	}
}

// enqueue blocks while every worker is busy and the buffer is full.
func (q *archiveQueue) enqueue(p db.Post) {
	q.posts <- p
}

// wait stops accepting posts, lets the workers drain the queue and returns
// the totals. Call it once.
func (q *archiveQueue) wait() core.ArchiveRunResult {
	close(q.posts)
	q.wg.Wait()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result
}
