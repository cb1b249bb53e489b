/*
Copyright © 2025 Katie Mulliken <katie@mulliken.net>
*/
package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const testToken = "token"

// fakeMastodon serves /api/v1/bookmarks with Link-header pagination.
type fakeMastodon struct {
	mu   sync.Mutex
	ids  []int64
	tags map[int64][]string
}

func newFakeMastodon(t *testing.T, ids ...int64) (*fakeMastodon, *httptest.Server) {
	t.Helper()
	f := &fakeMastodon{tags: map[int64][]string{}}
	f.add(ids...)
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMastodon) add(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
	sort.Slice(f.ids, func(i, j int) bool { return f.ids[i] < f.ids[j] })
}

func (f *fakeMastodon) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		http.Error(w, `{"error":"The access token is invalid"}`, http.StatusUnauthorized)
		return
	}
	if r.URL.Path != "/api/v1/bookmarks" {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	maxID, _ := strconv.ParseInt(q.Get("max_id"), 10, 64)
	minID, _ := strconv.ParseInt(q.Get("min_id"), 10, 64)
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	f.mu.Lock()
	var sel []int64 // descending
	if minID > 0 {
		for _, id := range f.ids {
			if id > minID && len(sel) < limit {
				sel = append([]int64{id}, sel...)
			}
		}
	} else {
		for i := len(f.ids) - 1; i >= 0 && len(sel) < limit; i-- {
			if maxID == 0 || f.ids[i] < maxID {
				sel = append(sel, f.ids[i])
			}
		}
	}

	items := make([]string, 0, len(sel))
	for _, id := range sel {
		var tags []string
		for _, tag := range f.tags[id] {
			tags = append(tags, fmt.Sprintf(`{"name":%q,"url":"https://example.social/tags/%s"}`, tag, tag))
		}
		created := time.Date(2024, 1, 1, 0, int(id), 0, 0, time.UTC).Format(time.RFC3339Nano)
		items = append(items, fmt.Sprintf(
			`{"id":"%d","uri":"https://example.social/users/alice/statuses/%d","url":"https://example.social/@alice/%d","created_at":%q,"content":"<p>toot <b>%d</b></p>","account":{"url":"https://example.social/@alice"},"tags":[%s]}`,
			id, id, id, created, id, strings.Join(tags, ","),
		))
	}
	f.mu.Unlock()

	if len(sel) > 0 {
		base := "http://" + r.Host + r.URL.Path
		w.Header().Set("Link", fmt.Sprintf(`<%s?max_id=%d>; rel="next", <%s?min_id=%d>; rel="prev"`,
			base, sel[len(sel)-1], base, sel[0]))
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "["+strings.Join(items, ",")+"]")
}

// setTestEnv points the configuration at srvURL and clears everything else.
func setTestEnv(t *testing.T, srvURL string) {
	t.Helper()
	for _, key := range []string{"DB_PATH", "STATE_PATH", "LOG_LEVEL", "LOG_PATH", "SYNC_EXTRA_TAGS", "SYNC_MAX_ATTEMPTS", "MASTODON_TIMEOUT"} {
		t.Setenv(key, "")
	}
	t.Setenv("MASTODON_URL", srvURL)
	t.Setenv("MASTODON_ACCESS_TOKEN", testToken)
	t.Setenv("MASTODON_PAGE_LIMIT", "2")
	t.Setenv("MASTODON_RATE_INTERVAL", "0s")
	t.Setenv("SYNC_RETRY_DELAY", "0s")
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI with args and returns what it printed to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--env-file="))
	err := rootCmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}
