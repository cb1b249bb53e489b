package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreationTimeLayout is how CreationTime is stored: no zone, exactly three
// fractional digits. time.Format truncates, it never rounds.
const CreationTimeLayout = "2006-01-02T15:04:05.000"

// VisibilityVisible is the Visibility of every mirrored post.
const VisibilityVisible = 1

// FormatCreationTime renders t in UTC wall time using CreationTimeLayout.
// The stored value never carries the local zone: a post created at 09:00
// in UTC+2 is stored as 07:00.
func FormatCreationTime(t time.Time) string {
	return t.UTC().Format(CreationTimeLayout)
}

// ------------------------------
// Post methods
// ------------------------------

// InsertBookmarks writes bookmarks and their tags in a single transaction on
// a scoped connection and returns the number of posts inserted.
//
// bookmarks are expected newest-first, as fetched; they are stored oldest
// first. Every post gets extraTags followed by its own tags. Nothing is
// written if any insert fails. PostInsertedEvents are emitted after commit.
func (db *DB) InsertBookmarks(ctx context.Context, bookmarks []Bookmark, extraTags []string) (int, error) {
	if len(bookmarks) == 0 {
		return 0, nil
	}

	var inserted []Post
	err := db.WithConn(ctx, func(conn *sql.Conn) error {
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		inserted, err = insertPosts(ctx, tx, bookmarks, extraTags)
		if err != nil {
			return err
		}
		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	db.logger.Info("posts inserted", "count", len(inserted))
	for _, p := range inserted {
		db.emit(PostInsertedEvent{Post: p})
	}
	return len(inserted), nil
}

func insertPosts(ctx context.Context, tx *sql.Tx, bookmarks []Bookmark, extraTags []string) ([]Post, error) {
	postStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO Posts (URL, Title, Description, Visibility, CreationTime)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ID
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare post insert: %w", err)
	}
	defer postStmt.Close()

	tagStmt, err := tx.PrepareContext(ctx, `INSERT INTO TagAssociations (TagName, PostID) VALUES (?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare tag insert: %w", err)
	}
	defer tagStmt.Close()

	out := make([]Post, 0, len(bookmarks))
	for i := len(bookmarks) - 1; i >= 0; i-- {
		b := bookmarks[i]
		p := Post{
			URL:          b.URL,
			Title:        b.Title,
			Description:  b.Description,
			Visibility:   VisibilityVisible,
			CreationTime: FormatCreationTime(b.CreationTime),
		}
		if err := postStmt.QueryRowContext(ctx, p.URL, p.Title, p.Description, p.Visibility, p.CreationTime).Scan(&p.ID); err != nil {
			return nil, fmt.Errorf("failed to insert post %s: %w", b.URL, err)
		}

		p.Tags = make([]string, 0, len(extraTags)+len(b.Tags))
		p.Tags = append(p.Tags, extraTags...)
		p.Tags = append(p.Tags, b.Tags...)
		for _, tag := range p.Tags {
			if _, err := tagStmt.ExecContext(ctx, tag, p.ID); err != nil {
				return nil, fmt.Errorf("failed to tag post %d with %q: %w", p.ID, tag, err)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (db *DB) GetPost(id int64) (Post, error) {
	var p Post
	err := db.db.QueryRow(`
		SELECT ID, URL, Title, Description, Visibility, CreationTime
		FROM Posts WHERE ID = ?
	`, id).Scan(&p.ID, &p.URL, &p.Title, &p.Description, &p.Visibility, &p.CreationTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Post{}, fmt.Errorf("post not found: %d", id)
		}
		return Post{}, fmt.Errorf("failed to get post: %w", err)
	}
	if p.Tags, err = db.PostTags(id); err != nil {
		return Post{}, err
	}
	return p, nil
}

// PostTags returns the tags of a post in insertion order.
func (db *DB) PostTags(id int64) ([]string, error) {
	rows, err := db.db.Query(`SELECT TagName FROM TagAssociations WHERE PostID = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// ListPostsOptions filters ListPosts. Zero values mean no filter.
type ListPostsOptions struct {
	Tag   string
	Limit int
}

// ListPosts returns posts newest-first (by insertion), with tags loaded.
func (db *DB) ListPosts(opts ListPostsOptions) ([]Post, error) {
	var (
		query strings.Builder
		args  []any
	)
	query.WriteString(`SELECT ID, URL, Title, Description, Visibility, CreationTime FROM Posts`)
	if opts.Tag != "" {
		query.WriteString(` WHERE ID IN (SELECT PostID FROM TagAssociations WHERE TagName = ?)`)
		args = append(args, opts.Tag)
	}
	query.WriteString(` ORDER BY ID DESC`)
	if opts.Limit > 0 {
		query.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := db.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.Description, &p.Visibility, &p.CreationTime); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	// Tags are loaded after the cursor is closed: the pool holds one connection.
	rows.Close()

	for i := range out {
		if out[i].Tags, err = db.PostTags(out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) CountPosts() (int, error) {
	var n int
	if err := db.db.QueryRow(`SELECT COUNT(*) FROM Posts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}
