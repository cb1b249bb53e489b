package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/seckatie/betulon/internal/mastodon"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSource serves bookmarks the way the Mastodon bookmarks endpoint
// paginates them: pages are newest-first, max_id walks older, min_id returns
// the page immediately above the id.
type fakeSource struct {
	ids      []int64 // ascending
	tags     map[int64][]string
	pageSize int
	calls    int
	// before runs ahead of serving call n (1-based).
	before func(n int)
	failOn int
	err    error
}

func newFakeSource(pageSize int, ids ...int64) *fakeSource {
	f := &fakeSource{pageSize: pageSize}
	f.add(ids...)
	return f
}

func (f *fakeSource) add(ids ...int64) {
	f.ids = append(f.ids, ids...)
	sort.Slice(f.ids, func(i, j int) bool { return f.ids[i] < f.ids[j] })
}

func (f *fakeSource) remove(id int64) {
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			return
		}
	}
}

func (f *fakeSource) newest() int64 {
	if len(f.ids) == 0 {
		return 0
	}
	return f.ids[len(f.ids)-1]
}

func (f *fakeSource) Bookmarks(_ context.Context, p mastodon.PageParams) (*mastodon.Page, error) {
	f.calls++
	if f.before != nil {
		f.before(f.calls)
	}
	if f.failOn == f.calls {
		return nil, f.err
	}

	var sel []int64 // descending
	if p.MinID > 0 {
		for _, id := range f.ids {
			if id > p.MinID && len(sel) < f.pageSize {
				sel = append([]int64{id}, sel...)
			}
		}
	} else {
		for i := len(f.ids) - 1; i >= 0 && len(sel) < f.pageSize; i-- {
			if p.MaxID == 0 || f.ids[i] < p.MaxID {
				sel = append(sel, f.ids[i])
			}
		}
	}

	page := &mastodon.Page{}
	for _, id := range sel {
		page.Statuses = append(page.Statuses, testStatus(id, f.tags[id]...))
	}
	if len(sel) > 0 {
		page.PrevMinID = sel[0]
		page.NextMaxID = sel[len(sel)-1]
	}
	return page, nil
}

func testStatus(id int64, tags ...string) mastodon.Status {
	return mastodon.Status{
		ID:         fmt.Sprint(id),
		URL:        fmt.Sprintf("https://example.social/@alice/%d", id),
		AccountURL: "https://example.social/@alice",
		Content:    fmt.Sprintf("<p>toot %d</p>", id),
		CreatedAt:  testEpoch.Add(time.Duration(id) * time.Minute),
		Tags:       tags,
	}
}

func statusIDs(statuses []mastodon.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.ID)
	}
	return out
}
