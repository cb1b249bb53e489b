package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"blank", " \n ", ""},
		{"plain paragraph", "<p>Hello world</p>", "Hello world"},
		{"strong", "<p>Hello <strong>there</strong></p>", "Hello **there**"},
		{"bold", "<p>toot <b>7</b></p>", "toot **7**"},
		{"paragraphs", "<p>a</p>\n \n<p>b</p>", "a\n\nb"},
		{"drops scripts", "<p>ok</p><script>alert(1)</script>", "ok"},
		{
			"hashtag",
			`<p>Reading about <a href="https://example.social/tags/golang" class="mention hashtag" rel="tag">#<span>golang</span></a></p>`,
			"Reading about [#golang](https://example.social/tags/golang)",
		},
		{
			"mention",
			`<p><span class="h-card"><a href="https://example.social/@bob" class="u-url mention">@<span>bob</span></a></span> hi</p>`,
			"[@bob](https://example.social/@bob) hi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Convert(tt.in))
		})
	}
}

func TestConvertMarkup(t *testing.T) {
	t.Run("emphasis", func(t *testing.T) {
		got := Convert("<p><em>italic</em> and <strong>bold</strong></p>")
		assert.Contains(t, got, "italic*")
		assert.Contains(t, got, "**bold**")
	})

	t.Run("shortened bare link keeps the full URL", func(t *testing.T) {
		got := Convert(`<p>see <a href="https://example.com/a/long/path" rel="nofollow noopener" target="_blank">` +
			`<span class="invisible">https://</span><span class="ellipsis">example.com/a/lo</span>` +
			`<span class="invisible">ng/path</span></a></p>`)
		assert.Contains(t, got, "https://example.com/a/long/path")
	})

	t.Run("lists", func(t *testing.T) {
		got := Convert("<ul><li>one</li><li>two</li></ul>")
		assert.Contains(t, got, "one")
		assert.Contains(t, got, "two")
		assert.Regexp(t, `(?m)^[-*+] one$`, got)
	})

	t.Run("code block", func(t *testing.T) {
		got := Convert("<pre><code>func main() {\n\tprintln(1)\n}\n</code></pre>")
		assert.Contains(t, got, "func main() {\n\tprintln(1)\n}")
		assert.Contains(t, got, "```")
	})

	t.Run("blockquote", func(t *testing.T) {
		assert.Regexp(t, `(?m)^> quoted$`, Convert("<blockquote><p>quoted</p></blockquote>"))
	})

	t.Run("image", func(t *testing.T) {
		assert.Contains(t, Convert(`<p><img src="https://x/y.png" alt="a cat"></p>`), "![a cat](https://x/y.png)")
	})
}

// Text that merely looks like Markdown or HTML must come back as text.
func TestConvertKeepsText(t *testing.T) {
	t.Run("escaped tags stay escaped", func(t *testing.T) {
		got := Convert("<p>a &lt;script&gt;alert(1)&lt;/script&gt; b</p>")
		assert.NotContains(t, got, "<script")
		assert.Contains(t, got, "&lt;script>")
		assert.Contains(t, got, "&lt;/script>")
	})

	t.Run("generics", func(t *testing.T) {
		got := Convert("<p>Vec&lt;T&gt; is a type</p>")
		assert.NotContains(t, got, "Vec<T>")
		assert.Contains(t, got, "Vec&lt;T>")
	})

	t.Run("literal entity text", func(t *testing.T) {
		got := Convert("<p>write &amp;lt; for less-than, Tom &amp; Jerry</p>")
		assert.Contains(t, got, "&amp;lt;")
		assert.Contains(t, got, "Tom & Jerry")
	})

	leading := []struct {
		name string
		in   string
		text string
	}{
		{"ordered list marker", "<p>1. not a list</p>", "not a list"},
		{"heading marker", "<p># not a heading</p>", "not a heading"},
		{"quote marker", "<p>&gt; not a quote</p>", "not a quote"},
		{"link syntax", "<p>[text](http://x)</p>", "text"},
		{"emphasis syntax", "<p>snake_case and 2*3*4</p>", "case and 2"},
	}
	for _, tt := range leading {
		t.Run(tt.name, func(t *testing.T) {
			got := Convert(tt.in)
			raw := Convert("<p>" + tt.text + "</p>")
			assert.Contains(t, got, raw)
			assert.Contains(t, got, `\`, "markdown syntax in text must be escaped: %q", got)
		})
	}

	t.Run("backtick inside code", func(t *testing.T) {
		got := Convert("<p>use <code>a`b</code> here</p>")
		assert.Contains(t, got, "a`b")
		assert.Contains(t, got, "``", "a longer fence keeps the backtick inside the span")
	})

	t.Run("angle bracket inside code is literal", func(t *testing.T) {
		got := Convert("<p><code>Vec&lt;T&gt;</code></p>")
		assert.Contains(t, got, "`Vec<T>`")
	})
}
