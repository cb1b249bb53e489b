package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Archive status values stored in PostArchives.Status.
const (
	ArchiveStatusOK    = "ok"
	ArchiveStatusError = "error"
)

// ListPostsToArchive returns posts without a successful snapshot, oldest first.
func (db *DB) ListPostsToArchive(limit int) ([]Post, error) {
	query := `
		SELECT p.ID, p.URL, p.Title, p.Description, p.Visibility, p.CreationTime
		FROM Posts p
		LEFT JOIN PostArchives a ON a.PostID = p.ID
		WHERE a.ArchivedAt IS NULL
		ORDER BY p.ID ASC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list posts to archive: %w", err)
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.Description, &p.Visibility, &p.CreationTime); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) GetPostArchive(id int64) (PostArchive, error) {
	var a PostArchive
	err := db.db.QueryRow(`
		SELECT
			PostID,
			COALESCE(ArchivedURL, ''),
			COALESCE(ArchivedHTML, ''),
			COALESCE(AttemptedAt, ''),
			COALESCE(ArchivedAt, ''),
			COALESCE(Status, ''),
			COALESCE(Error, '')
		FROM PostArchives
		WHERE PostID = ?
	`, id).Scan(
		&a.PostID,
		&a.ArchivedURL,
		&a.ArchivedHTML,
		&a.AttemptedAt,
		&a.ArchivedAt,
		&a.Status,
		&a.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PostArchive{}, fmt.Errorf("archive not found for post %d", id)
		}
		return PostArchive{}, fmt.Errorf("failed to get post archive: %w", err)
	}
	return a, nil
}

// SaveArchiveResult upserts the outcome of one archive attempt. A failed
// attempt keeps nothing from earlier successes except the row itself.
func (db *DB) SaveArchiveResult(id int64, attemptedAt time.Time, archivedAt *time.Time, status, archiveErr, archivedURL, archivedHTML string) error {
	var archivedAtStr any
	if archivedAt != nil {
		archivedAtStr = archivedAt.UTC().Format(time.RFC3339)
	}

	_, err := db.db.Exec(`
		INSERT INTO PostArchives (PostID, AttemptedAt, ArchivedAt, Status, Error, ArchivedURL, ArchivedHTML)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(PostID) DO UPDATE SET
			AttemptedAt = excluded.AttemptedAt,
			ArchivedAt = excluded.ArchivedAt,
			Status = excluded.Status,
			Error = excluded.Error,
			ArchivedURL = excluded.ArchivedURL,
			ArchivedHTML = excluded.ArchivedHTML
	`,
		id,
		attemptedAt.UTC().Format(time.RFC3339),
		archivedAtStr,
		status,
		archiveErr,
		archivedURL,
		archivedHTML,
	)
	if err != nil {
		return fmt.Errorf("failed to save archive result: %w", err)
	}

	db.emit(ArchiveResultSavedEvent{PostID: id, Status: status})
	return nil
}
