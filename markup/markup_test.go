package markup

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	testCases := []struct {
		name string
		src  string
		want string
	}{
		{"paragraph", "Hello *world*", "<p>Hello <em>world</em></p>\n"},
		{"line breaks", "a\nb", "<p>a<br>\nb</p>\n"},
		{"heading and inline", "# Title\n\nSome **bold** and `x<y`", "<h1>Title</h1>\n<p>Some <strong>bold</strong> and <code>x&lt;y</code></p>\n"},
		{"h3", "### Small", "<h3>Small</h3>\n"},
		{"four hashes is text", "#### Nope", "<p>#### Nope</p>\n"},
		{"bullets", "- a\n* b", "<ul>\n<li>a</li>\n<li>b</li>\n</ul>\n"},
		{"ordered", "1. a\n2. b", "<ol>\n<li>a</li>\n<li>b</li>\n</ol>\n"},
		{"quote", "> hi\n> there", "<blockquote><p>hi<br>\nthere</p></blockquote>\n"},
		{"fence", "```go\nfunc main() {}\n\n// x < y\n```", "<pre><code class=\"language-go\">func main() {}\n\n// x &lt; y</code></pre>\n"},
		{"link", "[site](https://example.org)", "<p><a href=\"https://example.org\">site</a></p>\n"},
		{"relative link", "[about](about)", "<p><a href=\"about\">about</a></p>\n"},
		{"image", "![cat](/img/cat.png)", "<p><img src=\"/img/cat.png\" alt=\"cat\"></p>\n"},
		{"escape", "<script>", "<p>&lt;script&gt;</p>\n"},
		{"unclosed markers", "2 * 3 and `x", "<p>2 * 3 and `x</p>\n"},
		{"blocks", "one\n\n\ntwo", "<p>one</p>\n<p>two</p>\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, string(Render(tc.src)))
		})
	}
}

func TestRender_UnsafeLink(t *testing.T) {
	got := string(Render("[x](javascript:alert(1))"))
	assert.NotContains(t, got, "javascript")
	assert.NotContains(t, got, "<a")
	assert.Contains(t, got, "x")
}

func TestExcerpt(t *testing.T) {
	src := "# Devlog\n\nThe quick brown fox jumps over the **lazy** [dog](/dog).\n\nSecond paragraph."
	assert.Equal(t, "The quick brown fox jumps over the lazy dog.", Excerpt(src, 0))
	assert.Equal(t, "The quick brown…", Excerpt(src, 15))
	assert.Equal(t, "The quick…", Excerpt(src, 13))
	assert.Equal(t, "", Excerpt("```\ncode only\n```", 10))
}

func TestReadingTime(t *testing.T) {
	assert.Equal(t, 1, ReadingTime(""))
	assert.Equal(t, 1, ReadingTime(strings.Repeat("word ", 200)))
	assert.Equal(t, 2, ReadingTime(strings.Repeat("word ", 201)))
}
