package mention

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/ds"
)

const hentry = `<article class="post h-entry">
	<header class="post-header">
	<h1 class="post-title p-name">WebMention Only</h1>
	<p class="post-meta">
	<a class="u-url" href="/news/2018/01/webmention-only">
		<time datetime="2018-01-13T00:00:00-05:00" class="dt-published"> Jan 13, 2018 </time>
	</a>
	<a rel="author" class="p-author h-card" href="/about">
		<img class="u-photo" src="/images/joe.png" alt="">
		<span>Joe Gregorio</span>
	</a>
	</p>
	</header>
	<div class="post-content e-content">
	<p><a href="%s">A post worth mentioning.</a></p>
	</div>
</article>`

func testImage(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		img.Set(x, x%48, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestFastValidate(t *testing.T) {
	testCases := []struct {
		name   string
		source string
		target string
		ok     bool
	}{
		{"good", "https://other.example.com/a", "https://example.org/blog/x", true},
		{"http source", "http://other.example.com/a", "https://example.org/blog/x", true},
		{"empty source", "", "https://example.org/blog/x", false},
		{"empty target", "https://other.example.com/a", "", false},
		{"same", "https://example.org/blog/x", "https://example.org/blog/x", false},
		{"wrong host", "https://other.example.com/a", "https://evil.example.com/blog/x", false},
		{"http target", "https://other.example.com/a", "http://example.org/blog/x", false},
		{"ftp source", "ftp://other.example.com/a", "https://example.org/blog/x", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := New(tc.source, tc.target).FastValidate("example.org")
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParseMicroformats(t *testing.T) {
	raw := fmt.Sprintf(hentry, "https://example.org/blog/x")
	mention := &Mention{
		Source: "https://bitworking.org/news/2018/01/webmention-only",
	}
	var requested string
	urlToImageReader := func(url string) (io.ReadCloser, error) {
		requested = url
		return ioutil.NopCloser(bytes.NewReader(testImage(t))), nil
	}
	thumb := ParseMicroformats(mention, strings.NewReader(raw), urlToImageReader)
	assert.Equal(t, "WebMention Only", mention.Title)
	assert.Contains(t, mention.Author, "Joe Gregorio")
	assert.True(t, mention.Published.Equal(time.Date(2018, 1, 13, 5, 0, 0, 0, time.UTC)))
	assert.Equal(t, "https://bitworking.org/about", mention.AuthorURL)
	assert.Equal(t, "https://bitworking.org/images/joe.png", requested)
	require.NotNil(t, thumb)
	assert.Equal(t, fmt.Sprintf("%x", md5.Sum(thumb)), mention.Thumbnail)

	img, err := png.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, THUMBNAIL_SIZE, img.Bounds().Dx())
}

func TestValidateSource(t *testing.T) {
	target := "https://example.org/blog/x"
	mux := http.NewServeMux()
	mux.HandleFunc("/links", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, hentry, target)
	})
	mux.HandleFunc("/nolinks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<p>Nothing to see here.</p>")
	})
	mux.HandleFunc("/images/joe.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(testImage(t))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	good := New(ts.URL+"/links", target)
	thumb, err := validateSource(good, ts.Client())
	require.NoError(t, err)
	assert.NotNil(t, thumb)
	assert.NotEmpty(t, good.Thumbnail)

	_, err = validateSource(New(ts.URL+"/nolinks", target), ts.Client())
	assert.Error(t, err)

	_, err = validateSource(New(ts.URL+"/missing", target), ts.Client())
	assert.Error(t, err)
}

func TestSend(t *testing.T) {
	var mutex sync.Mutex
	received := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("/supports", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><link rel="webmention" href="/endpoint"></head><body>hi</body></html>`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>no endpoint</body></html>`)
	})
	mux.HandleFunc("/endpoint", func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		defer mutex.Unlock()
		received[r.FormValue("target")] = r.FormValue("source")
		w.WriteHeader(http.StatusAccepted)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	source := "https://example.org/blog/devlog-1"
	html := fmt.Sprintf(`<p>See <a href="%s/supports">this</a> and <a href="%s/plain">that</a>.</p>`, ts.URL, ts.URL)
	sent, err := Send(ts.Client(), source, html)
	require.NoError(t, err)
	assert.Equal(t, []string{ts.URL + "/supports"}, sent)
	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, map[string]string{ts.URL + "/supports": source}, received)
}

func initForTesting(t *testing.T) *Mentions {
	d, ok, err := ds.InitForTesting(context.Background())
	if !ok {
		t.Skip("Firestore emulator is not available. Set FIRESTORE_EMULATOR_HOST to run these tests.")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return NewMentions(d)
}

func TestDB(t *testing.T) {
	ctx := context.Background()
	m := initForTesting(t)

	for _, mention := range []*Mention{
		{Source: "https://stackoverflow.com/foo", Target: "https://example.org/bar", State: GOOD_STATE, TS: time.Now()},
		{Source: "https://spam.com/foo", Target: "https://example.org/bar", State: SPAM_STATE, TS: time.Now()},
		{Source: "https://news.ycombinator.com/foo", Target: "https://example.org/bar", State: GOOD_STATE, TS: time.Now()},
	} {
		require.NoError(t, m.Put(ctx, mention))
	}

	mentions, err := m.GetGood(ctx, "https://example.org/bar")
	require.NoError(t, err)
	assert.Len(t, mentions, 2)
	all, err := m.GetAll(ctx, "https://example.org/bar")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	// Spam stays spam when the same source mentions the target again.
	again := New("https://spam.com/foo", "https://example.org/bar")
	require.NoError(t, m.Put(ctx, again))
	assert.Equal(t, SPAM_STATE, again.State)

	triage, err := m.GetTriage(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, triage, 3)
	require.NoError(t, m.UpdateState(ctx, triage[0].Key, UNTRIAGED_STATE))
	queued, err := m.GetQueued(ctx)
	require.NoError(t, err)
	assert.Len(t, queued, 1)

	assert.Error(t, m.UpdateState(ctx, triage[0].Key, "bogus"))
	assert.Equal(t, ErrNotFound, m.UpdateState(ctx, "missing", GOOD_STATE))

	require.NoError(t, m.putThumbnail(ctx, "abc", []byte{1, 2, 3}))
	b, err := m.GetThumbnail(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	_, err = m.GetThumbnail(ctx, "nope")
	assert.Equal(t, ErrNotFound, err)
}

func TestSendForPost_SkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	m := initForTesting(t)

	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `<html><body>no endpoint</body></html>`)
	}))
	defer ts.Close()

	updated := time.Now()
	html := fmt.Sprintf(`<a href="%s/page">link</a>`, ts.URL)
	require.NoError(t, m.SendForPost(ctx, ts.Client(), "https://example.org/blog/a", html, updated))
	first := atomic.LoadInt32(&hits)
	assert.True(t, first > 0)
	require.NoError(t, m.SendForPost(ctx, ts.Client(), "https://example.org/blog/a", html, updated))
	assert.Equal(t, first, atomic.LoadInt32(&hits))
	require.NoError(t, m.SendForPost(ctx, ts.Client(), "https://example.org/blog/a", html, updated.Add(time.Hour)))
	assert.True(t, atomic.LoadInt32(&hits) > first)
}
