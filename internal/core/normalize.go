package core

import (
	"github.com/seckatie/betulon/internal/core/db"
	"github.com/seckatie/betulon/internal/core/markdown"
	"github.com/seckatie/betulon/internal/mastodon"
)

const titlePrefix = "toot by "

// Normalize maps a bookmarked status to the record that gets stored.
func Normalize(s mastodon.Status) db.Bookmark {
	tags := make([]string, len(s.Tags))
	copy(tags, s.Tags)
	return db.Bookmark{
		URL:          s.URL,
		Title:        titlePrefix + s.AccountURL,
		Description:  markdown.Convert(s.Content),
		CreationTime: s.CreatedAt,
		Tags:         tags,
	}
}

// NormalizeAll keeps the input order.
func NormalizeAll(statuses []mastodon.Status) []db.Bookmark {
	out := make([]db.Bookmark, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, Normalize(s))
	}
	return out
}
