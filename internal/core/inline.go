package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
)

// userAgent is sent with every resource request.
const userAgent = "Mozilla/5.0 (compatible; betulon/1.0)"

var (
	errResourceMissing  = errors.New("resource not found")
	errResourceTooLarge = errors.New("resource too large")
	errBlockedURL       = errors.New("blocked internal address")
)

// cssURLPattern matches url(...) with double, single or no quotes.
var cssURLPattern = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"\s]*))\s*\)`)

// internalSuffixes are host suffixes that never name a public site.
var internalSuffixes = []string{".local", ".localhost", ".internal", ".localdomain"}

var attrEscaper = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;", `<`, "&lt;", `>`, "&gt;")

// InlineOptions controls which resources an Inliner pulls into a snapshot.
type InlineOptions struct {
	// Timeout bounds each resource fetch.
	Timeout time.Duration
	// MaxResourceSize skips resources larger than this many bytes. 0 means no
	// limit.
	MaxResourceSize int64
	// KeepScripts inlines external scripts. When false every <script> is
	// dropped from the snapshot.
	KeepScripts bool
}

func DefaultInlineOptions() InlineOptions {
	return InlineOptions{
		Timeout:         DefaultInlineTimeout,
		MaxResourceSize: DefaultMaxResourceSize,
	}
}

// Inliner rewrites a captured page so that its stylesheets, images and
// optionally its scripts are embedded, making the stored HTML viewable
// offline.
type Inliner struct {
	client *http.Client
	opts   InlineOptions
	logger *log.Logger

	// allowInternal lets tests fetch from httptest servers on loopback.
	allowInternal bool
}

func NewInliner(opts InlineOptions, logger *log.Logger) *Inliner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultInlineTimeout
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Inliner{
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		logger: logger.WithPrefix("inline"),
	}
}

// inlineRun is one Inline call. A resource referenced twice is fetched once.
type inlineRun struct {
	*Inliner
	ctx   context.Context
	cache map[string]string
}

// Inline embeds the external resources of html, resolving relative references
// against baseURL. Resources that cannot be fetched keep their original
// reference and a <base> element is added so those still resolve.
func (in *Inliner) Inline(ctx context.Context, html, baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	run := &inlineRun{Inliner: in, ctx: ctx, cache: map[string]string{}}

	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		cssURL := resolveURL(base, s.AttrOr("href", ""))
		if cssURL == "" {
			return
		}
		css, _, err := run.fetch(cssURL)
		if err != nil {
			run.skip("stylesheet", cssURL, err)
			return
		}
		s.ReplaceWithHtml("<style>" + run.inlineCSS(string(css), cssURL) + "</style>")
	})

	if in.opts.KeepScripts {
		doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
			jsURL := resolveURL(base, s.AttrOr("src", ""))
			if jsURL == "" {
				return
			}
			js, _, err := run.fetch(jsURL)
			if err != nil {
				run.skip("script", jsURL, err)
				return
			}
			s.RemoveAttr("src")
			s.SetText(string(js))
		})
	} else {
		doc.Find("script").Remove()
	}

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		imgURL := resolveURL(base, s.AttrOr("src", ""))
		if imgURL == "" {
			return
		}
		if uri, ok := run.dataURI(imgURL, "image"); ok {
			s.SetAttr("src", uri)
		}
	})
	// srcset candidates would win over the embedded src.
	doc.Find("img[srcset], source[srcset]").RemoveAttr("srcset")

	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if style := s.AttrOr("style", ""); strings.Contains(style, "url(") {
			s.SetAttr("style", run.inlineCSS(style, base.String()))
		}
	})

	if doc.Find("base").Length() == 0 {
		if head := doc.Find("head"); head.Length() > 0 {
			head.PrependHtml(`<base href="` + attrEscaper.Replace(base.String()) + `">`)
		}
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("failed to serialize HTML: %w", err)
	}
	return out, nil
}

// inlineCSS replaces every url() in css that can be fetched with a data URI.
// References resolve against baseURL, the stylesheet's own address.
func (r *inlineRun) inlineCSS(css, baseURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return css
	}
	return cssURLPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURLPattern.FindStringSubmatch(m)
		ref := sub[1] + sub[2] + sub[3]
		resolved := resolveURL(base, ref)
		if resolved == "" {
			return m
		}
		if uri, ok := r.dataURI(resolved, "css resource"); ok {
			return `url("` + uri + `")`
		}
		return m
	})
}

func (r *inlineRun) dataURI(resourceURL, kind string) (string, bool) {
	if uri, ok := r.cache[resourceURL]; ok {
		return uri, uri != ""
	}
	data, contentType, err := r.fetch(resourceURL)
	if err != nil {
		r.skip(kind, resourceURL, err)
		r.cache[resourceURL] = ""
		return "", false
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if i := strings.Index(contentType, ";"); i > 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	uri := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
	r.cache[resourceURL] = uri
	return uri, true
}

// skip logs a resource that stays external. Missing resources are common on
// old pages and only show up at debug level.
func (r *inlineRun) skip(kind, resourceURL string, err error) {
	if errors.Is(err, errResourceMissing) {
		r.logger.Debug("resource missing", "kind", kind, "url", resourceURL)
		return
	}
	r.logger.Warn("resource not inlined", "kind", kind, "url", resourceURL, "err", err)
}

// fetch downloads resourceURL and returns its body and Content-Type.
func (in *Inliner) fetch(ctx context.Context, resourceURL string) ([]byte, string, error) {
	if !in.allowInternal && isInternalURL(resourceURL) {
		return nil, "", fmt.Errorf("%s: %w", resourceURL, errBlockedURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resourceURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, "", fmt.Errorf("HTTP %d: %w", resp.StatusCode, errResourceMissing)
	case resp.StatusCode != http.StatusOK:
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if in.opts.MaxResourceSize > 0 {
		body = io.LimitReader(resp.Body, in.opts.MaxResourceSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	// A truncated stylesheet or image is worse than a missing one.
	if in.opts.MaxResourceSize > 0 && int64(len(data)) > in.opts.MaxResourceSize {
		return nil, "", fmt.Errorf("over %d bytes: %w", in.opts.MaxResourceSize, errResourceTooLarge)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (r *inlineRun) fetch(resourceURL string) ([]byte, string, error) {
	return r.Inliner.fetch(r.ctx, resourceURL)
}

// resolveURL resolves ref against base. It returns "" for references that
// cannot or should not be fetched.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

// isInternalURL reports whether rawURL points at loopback, private or
// link-local space, or at a host name reserved for local networks. Anything
// without a host counts as internal.
func isInternalURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" || host == "localhost" {
		return true
	}
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
