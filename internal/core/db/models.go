package db

import "time"

// Bookmark is a normalized Mastodon bookmark waiting to be written.
// It is never mutated after normalization.
type Bookmark struct {
	URL          string
	Title        string
	Description  string
	CreationTime time.Time
	Tags         []string
}

// Post is a row of the Posts table.
type Post struct {
	ID          int64
	URL         string
	Title       string
	Description string
	Visibility  int
	// CreationTime is stored without timezone at millisecond precision.
	CreationTime string
	Tags         []string
}

type PostArchive struct {
	PostID       int64
	ArchivedURL  string
	ArchivedHTML string
	AttemptedAt  string
	ArchivedAt   string
	Status       string
	Error        string
}
