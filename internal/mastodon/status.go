package mastodon

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Status is the subset of a Mastodon status the mirror needs.
type Status struct {
	ID         string
	URL        string
	AccountURL string
	// Content is the status body as HTML.
	Content   string
	CreatedAt time.Time
	// Tags are hashtag names in the order the server lists them.
	Tags []string
}

func parseStatuses(body []byte) ([]Status, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to parse bookmarks: invalid JSON")
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return nil, fmt.Errorf("failed to parse bookmarks: expected an array, got %s", res.Type)
	}

	items := res.Array()
	out := make([]Status, 0, len(items))
	for i, item := range items {
		s, err := parseStatus(item)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bookmark %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseStatus(item gjson.Result) (Status, error) {
	s := Status{
		ID:         item.Get("id").String(),
		URL:        item.Get("url").String(),
		AccountURL: item.Get("account.url").String(),
		Content:    item.Get("content").String(),
	}
	if s.URL == "" {
		s.URL = item.Get("uri").String()
	}

	created := item.Get("created_at").String()
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Status{}, fmt.Errorf("invalid created_at %q: %w", created, err)
	}
	s.CreatedAt = t

	for _, name := range item.Get("tags.#.name").Array() {
		s.Tags = append(s.Tags, name.String())
	}
	return s, nil
}

// parseLink extracts the max_id of rel="next" and the min_id of rel="prev"
// from a Link header. Missing relations yield 0.
func parseLink(header string) (next, prev int64, err error) {
	if strings.TrimSpace(header) == "" {
		return 0, 0, nil
	}
	for _, part := range strings.Split(header, ",") {
		target, params, found := strings.Cut(strings.TrimSpace(part), ";")
		if !found {
			continue
		}
		target = strings.TrimSpace(target)
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			return 0, 0, fmt.Errorf("malformed Link header entry %q", part)
		}
		u, err := url.Parse(target[1 : len(target)-1])
		if err != nil {
			return 0, 0, fmt.Errorf("malformed Link URL: %w", err)
		}

		switch linkRel(params) {
		case "next":
			if next, err = linkID(u.Query(), "max_id"); err != nil {
				return 0, 0, err
			}
		case "prev":
			if prev, err = linkID(u.Query(), "min_id", "since_id"); err != nil {
				return 0, 0, err
			}
		}
	}
	return next, prev, nil
}

func linkRel(params string) string {
	for _, p := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if ok && strings.EqualFold(key, "rel") {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}

func linkID(q url.Values, keys ...string) (int64, error) {
	for _, key := range keys {
		v := q.Get(key)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("non-numeric %s %q in Link header", key, v)
		}
		return id, nil
	}
	return 0, nil
}
