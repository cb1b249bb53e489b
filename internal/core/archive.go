package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/seckatie/betulon/internal/core/db"
)

// ArchiveOptions controls how a post's page is rendered and captured.
type ArchiveOptions struct {
	// ChromePath overrides the browser executable. Empty lets chromedp look
	// it up.
	ChromePath string
	// Headless runs the browser without a window.
	Headless bool
	// Timeout bounds navigation, rendering and capture of one page.
	Timeout time.Duration
	// WaitSelector, when set, must be visible before the capture.
	WaitSelector string
}

// ArchiveResult is one rendered page.
type ArchiveResult struct {
	FinalURL string
	Title    string
	HTML     string
}

// Capturer renders a URL and returns the final document.
type Capturer interface {
	Capture(ctx context.Context, url string) (ArchiveResult, error)
}

// ChromeCapturer drives a local Chrome or Chromium over the DevTools protocol.
type ChromeCapturer struct {
	opts   ArchiveOptions
	logger *log.Logger
}

func NewChromeCapturer(opts ArchiveOptions, logger *log.Logger) *ChromeCapturer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultArchiveTimeout
	}
	opts.WaitSelector = strings.TrimSpace(opts.WaitSelector)
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &ChromeCapturer{opts: opts, logger: logger.WithPrefix("chrome")}
}

func (c *ChromeCapturer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.NoDefaultBrowserCheck, chromedp.NoFirstRun)
	if c.opts.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ChromePath))
	}
	if !c.opts.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return opts
}

// Capture starts a fresh browser, loads url, waits for the network to go
// idle and returns the rendered <html>.
func (c *ChromeCapturer) Capture(ctx context.Context, url string) (ArchiveResult, error) {
	c.logger.Debug("capturing", "url", url, "timeout", c.opts.Timeout, "headless", c.opts.Headless)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, c.opts.Timeout)
	defer cancelRun()

	var res ArchiveResult
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			return navigateUntilIdle(ctx, url)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if c.opts.WaitSelector != "" {
		actions = append(actions, chromedp.WaitVisible(c.opts.WaitSelector, chromedp.ByQuery))
	}
	actions = append(actions,
		chromedp.Sleep(DefaultNetworkIdleDelay),
		chromedp.Location(&res.FinalURL),
		chromedp.Title(&res.Title),
		chromedp.OuterHTML("html", &res.HTML, chromedp.ByQuery),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to capture %s: %w", url, err)
	}
	res.Title = pageTitle(res.Title, res.HTML)
	return res, nil
}

func navigateUntilIdle(ctx context.Context, url string) error {
	if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
		return err
	}
	idle := make(chan struct{}, 1)
	chromedp.ListenTarget(ctx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == "networkIdle" {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})
	if err := chromedp.Navigate(url).Do(ctx); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pageTitle prefers document.title and falls back to the first <title> in html.
func pageTitle(title, html string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// ArchiveStore is the part of the database the archiver uses. *db.DB
// implements it.
type ArchiveStore interface {
	GetPost(id int64) (db.Post, error)
	ListPostsToArchive(limit int) ([]db.Post, error)
	SaveArchiveResult(id int64, attemptedAt time.Time, archivedAt *time.Time, status, archiveErr, archivedURL, archivedHTML string) error
}

// ResourceInliner makes a captured page self-contained. *Inliner implements
// it.
type ResourceInliner interface {
	Inline(ctx context.Context, html, baseURL string) (string, error)
}

// ArchiveRunOptions selects the posts of an archive run.
type ArchiveRunOptions struct {
	// ID, if > 0, archives only that post.
	ID int64
	// Limit bounds a batch run. <= 0 archives every post without a snapshot.
	Limit int
	// OnResult is called after each post, with its capture error if any.
	OnResult func(p db.Post, err error)
}

type ArchiveRunResult struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Archiver snapshots mirrored posts and records the outcome of each attempt.
type Archiver struct {
	store    ArchiveStore
	capturer Capturer
	inliner  ResourceInliner
	logger   *log.Logger
	now      func() time.Time
}

// NewArchiver returns an Archiver. A nil inliner stores pages as captured.
func NewArchiver(store ArchiveStore, capturer Capturer, inliner ResourceInliner, logger *log.Logger) *Archiver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Archiver{
		store:    store,
		capturer: capturer,
		inliner:  inliner,
		logger:   logger.WithPrefix("archive"),
		now:      time.Now,
	}
}

// ArchivePost captures p.URL and saves the result. A failed capture is still
// recorded, with status "error", and its error is returned.
func (a *Archiver) ArchivePost(ctx context.Context, p db.Post) error {
	attemptedAt := a.now()

	res, err := a.capturer.Capture(ctx, p.URL)
	if err != nil {
		if saveErr := a.store.SaveArchiveResult(p.ID, attemptedAt, nil, db.ArchiveStatusError, err.Error(), "", ""); saveErr != nil {
			return fmt.Errorf("archive failed (%v) and saving failure failed (%w)", err, saveErr)
		}
		return err
	}

	if a.inliner != nil {
		res.HTML = a.inline(ctx, p, res)
	}

	archivedAt := a.now()
	if err := a.store.SaveArchiveResult(p.ID, attemptedAt, &archivedAt, db.ArchiveStatusOK, "", res.FinalURL, res.HTML); err != nil {
		return err
	}
	a.logger.Info("post archived", "id", p.ID, "url", p.URL, "title", res.Title)
	return nil
}

// inline embeds the page's resources. On failure the page is kept as
// captured.
func (a *Archiver) inline(ctx context.Context, p db.Post, res ArchiveResult) string {
	base := res.FinalURL
	if base == "" {
		base = p.URL
	}
	html, err := a.inliner.Inline(ctx, res.HTML, base)
	if err != nil {
		a.logger.Warn("inlining failed, storing page as captured", "id", p.ID, "url", base, "err", err)
		return res.HTML
	}
	return html
}

// ArchivePosts archives posts in order. Failures are counted and do not stop
// the run; a non-nil error reports how many failed.
func (a *Archiver) ArchivePosts(ctx context.Context, posts []db.Post, onResult func(db.Post, error)) (ArchiveRunResult, error) {
	var res ArchiveRunResult
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempted++
		err := a.ArchivePost(ctx, p)
		if err != nil {
			res.Failed++
			a.logger.Warn("archive failed", "id", p.ID, "url", p.URL, "err", err)
		} else {
			res.Succeeded++
		}
		if onResult != nil {
			onResult(p, err)
		}
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("archiving finished with %d failure(s)", res.Failed)
	}
	return res, nil
}

// Run archives one post (opts.ID > 0) or the posts that have no snapshot yet.
func (a *Archiver) Run(ctx context.Context, opts ArchiveRunOptions) (ArchiveRunResult, error) {
	var posts []db.Post
	if opts.ID > 0 {
		p, err := a.store.GetPost(opts.ID)
		if err != nil {
			return ArchiveRunResult{}, err
		}
		posts = []db.Post{p}
	} else {
		var err error
		if posts, err = a.store.ListPostsToArchive(opts.Limit); err != nil {
			return ArchiveRunResult{}, err
		}
	}
	if len(posts) == 0 {
		a.logger.Info("no posts to archive")
		return ArchiveRunResult{}, nil
	}

	a.logger.Info("archiving posts", "count", len(posts))
	return a.ArchivePosts(ctx, posts, opts.OnResult)
}
