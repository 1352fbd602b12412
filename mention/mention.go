// Package mention receives, verifies and sends Webmentions for blog posts.
package mention

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/golang/glog"
	"github.com/nfnt/resize"
	"google.golang.org/api/iterator"
	"willnorris.com/go/microformats"
	"willnorris.com/go/webmention"

	"github.com/jcgregorio/gamesite/ds"
)

const (
	MENTIONS         ds.Kind = "Mentions"
	WEB_MENTION_SENT ds.Kind = "WebMentionSent"
	THUMBNAIL        ds.Kind = "Thumbnail"

	THUMBNAIL_SIZE = 32

	// Sources bigger than this are not worth reading.
	MAX_SOURCE_BYTES = 2 << 20
)

const (
	GOOD_STATE      = "good"
	UNTRIAGED_STATE = "untriaged"
	SPAM_STATE      = "spam"
)

var ErrNotFound = errors.New("mention not found")

func close(c io.Closer) {
	if err := c.Close(); err != nil {
		glog.Warningf("Failed to close: %s", err)
	}
}

// ValidState is true for the three triage states.
func ValidState(state string) bool {
	return state == GOOD_STATE || state == UNTRIAGED_STATE || state == SPAM_STATE
}

type Mentions struct {
	DS *ds.DS
}

func NewMentions(d *ds.DS) *Mentions {
	return &Mentions{
		DS: d,
	}
}

type Mention struct {
	Source string    `firestore:"source"`
	Target string    `firestore:"target"`
	State  string    `firestore:"state"`
	TS     time.Time `firestore:"ts"`

	// Metadata found when validating. We might display this.
	Title     string    `firestore:"title"`
	Author    string    `firestore:"author"`
	AuthorURL string    `firestore:"authorUrl"`
	Published time.Time `firestore:"published"`
	Thumbnail string    `firestore:"thumbnail"`
}

func New(source, target string) *Mention {
	return &Mention{
		Source: source,
		Target: target,
		State:  UNTRIAGED_STATE,
		TS:     time.Now().UTC(),
	}
}

func (m *Mention) key() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(m.Source+m.Target)))
}

// FastValidate does the checks that don't need the network. Targets must be
// https pages on host.
func (m *Mention) FastValidate(host string) error {
	if m.Source == "" {
		return fmt.Errorf("Source is empty.")
	}
	if m.Target == "" {
		return fmt.Errorf("Target is empty.")
	}
	if m.Target == m.Source {
		return fmt.Errorf("Source and Target must be different.")
	}
	source, err := url.Parse(m.Source)
	if err != nil {
		return fmt.Errorf("Source is not a valid URL: %s", err)
	}
	if source.Scheme != "http" && source.Scheme != "https" {
		return fmt.Errorf("Wrong scheme for source.")
	}
	target, err := url.Parse(m.Target)
	if err != nil {
		return fmt.Errorf("Target is not a valid URL: %s", err)
	}
	if target.Hostname() != host {
		return fmt.Errorf("Wrong target domain.")
	}
	if target.Scheme != "https" {
		return fmt.Errorf("Wrong scheme for target.")
	}
	return nil
}

// validateSource fetches the source and confirms it links to the target,
// filling in metadata from its microformats. It returns the PNG bytes of the
// author's thumbnail if one was found.
func validateSource(mention *Mention, c *http.Client) ([]byte, error) {
	glog.Infof("SlowValidate: %q", mention.Source)
	resp, err := c.Get(mention.Source)
	if err != nil {
		return nil, fmt.Errorf("Failed to retrieve source: %s", err)
	}
	defer close(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Source returned %d", resp.StatusCode)
	}
	b, err := ioutil.ReadAll(io.LimitReader(resp.Body, MAX_SOURCE_BYTES))
	if err != nil {
		return nil, fmt.Errorf("Failed to read content: %s", err)
	}
	links, err := webmention.DiscoverLinksFromReader(bytes.NewReader(b), mention.Source, "")
	if err != nil {
		return nil, fmt.Errorf("Failed to discover links: %s", err)
	}
	for _, link := range links {
		if link == mention.Target {
			return ParseMicroformats(mention, bytes.NewReader(b), MakeUrlToImageReader(c)), nil
		}
	}
	return nil, fmt.Errorf("Failed to find target link in source.")
}

// SlowValidate fetches the source and stores the author thumbnail, if any.
func (m *Mentions) SlowValidate(ctx context.Context, mention *Mention, c *http.Client) error {
	thumb, err := validateSource(mention, c)
	if err != nil {
		return err
	}
	if thumb != nil {
		if err := m.putThumbnail(ctx, mention.Thumbnail, thumb); err != nil {
			glog.Warningf("Failed to store thumbnail: %s", err)
			mention.Thumbnail = ""
		}
	}
	return nil
}

// ParseMicroformats fills in mention from the h-entry found in r and returns
// the author thumbnail as PNG, or nil.
func ParseMicroformats(mention *Mention, r io.Reader, urlToImageReader UrlToImageReader) []byte {
	u, err := url.Parse(mention.Source)
	if err != nil {
		return nil
	}
	data := microformats.Parse(r, u)
	return findHEntry(urlToImageReader, mention, data, data.Items)
}

// VerifyQueuedMentions slow-validates every untriaged mention, marking it good
// or spam.
func (m *Mentions) VerifyQueuedMentions(ctx context.Context, c *http.Client) (good, spam int) {
	queued, err := m.GetQueued(ctx)
	if err != nil {
		glog.Errorf("Failed to load queued mentions: %s", err)
		return 0, 0
	}
	glog.Infof("About to slow verify %d queued mentions.", len(queued))
	for _, mention := range queued {
		if ctx.Err() != nil {
			break
		}
		glog.Infof("Verifying queued webmention from %q", mention.Source)
		if err := m.SlowValidate(ctx, mention, c); err == nil {
			mention.State = GOOD_STATE
			good++
		} else {
			mention.State = SPAM_STATE
			spam++
			glog.Infof("Failed to validate webmention from %q: %s", mention.Source, err)
		}
		if err := m.save(ctx, mention); err != nil {
			glog.Errorf("Failed to save validated mention: %s", err)
		}
	}
	return good, spam
}

func (m *Mentions) coll() *firestore.CollectionRef {
	return m.DS.Collection(MENTIONS)
}

func readAll(it *firestore.DocumentIterator) ([]*MentionWithKey, error) {
	defer it.Stop()
	ret := []*MentionWithKey{}
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Failed while reading: %w", err)
		}
		var mention Mention
		if err := doc.DataTo(&mention); err != nil {
			return nil, fmt.Errorf("Failed to decode mention %s: %w", doc.Ref.ID, err)
		}
		ret = append(ret, &MentionWithKey{
			Mention: mention,
			Key:     doc.Ref.ID,
		})
	}
	return ret, nil
}

func (m *Mentions) get(ctx context.Context, target string, all bool) ([]*Mention, error) {
	q := m.coll().Where("target", "==", target)
	if !all {
		q = q.Where("state", "==", GOOD_STATE)
	}
	found, err := readAll(q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	ret := make([]*Mention, 0, len(found))
	for _, mk := range found {
		mention := mk.Mention
		ret = append(ret, &mention)
	}
	return ret, nil
}

func (m *Mentions) GetAll(ctx context.Context, target string) ([]*Mention, error) {
	return m.get(ctx, target, true)
}

func (m *Mentions) GetGood(ctx context.Context, target string) ([]*Mention, error) {
	return m.get(ctx, target, false)
}

func (m *Mentions) UpdateState(ctx context.Context, key, state string) error {
	if !ValidState(state) {
		return fmt.Errorf("Invalid state %q", state)
	}
	ref := m.coll().Doc(key)
	err := m.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("tx.Get: %w", err)
		}
		var mention Mention
		if err := doc.DataTo(&mention); err != nil {
			return err
		}
		mention.State = state
		return tx.Set(ref, &mention)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("Failed to update mention %q: %w", key, err)
	}
	return nil
}

type MentionWithKey struct {
	Mention
	Key string
}

func (m *Mentions) GetTriage(ctx context.Context, limit, offset int) ([]*MentionWithKey, error) {
	q := m.coll().OrderBy("ts", firestore.Desc).Limit(limit).Offset(offset)
	return readAll(q.Documents(ctx))
}

func (m *Mentions) GetQueued(ctx context.Context) ([]*Mention, error) {
	found, err := readAll(m.coll().Where("state", "==", UNTRIAGED_STATE).Documents(ctx))
	if err != nil {
		return nil, err
	}
	ret := make([]*Mention, 0, len(found))
	for _, mk := range found {
		mention := mk.Mention
		ret = append(ret, &mention)
	}
	return ret, nil
}

func (m *Mentions) save(ctx context.Context, mention *Mention) error {
	if _, err := m.coll().Doc(mention.key()).Set(ctx, mention); err != nil {
		return fmt.Errorf("Failed writing %q: %w", mention.Source, err)
	}
	return nil
}

// Put queues a received mention for verification. A source already marked as
// spam for the same target stays spam.
func (m *Mentions) Put(ctx context.Context, mention *Mention) error {
	ref := m.coll().Doc(mention.key())
	err := m.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err == nil {
			var old Mention
			if err := doc.DataTo(&old); err != nil {
				return err
			}
			if old.State == SPAM_STATE {
				mention.State = SPAM_STATE
			}
		} else if !ds.IsNotFound(err) {
			return err
		}
		return tx.Set(ref, mention)
	})
	if err != nil {
		return fmt.Errorf("Failed writing %q: %w", mention.Source, err)
	}
	return nil
}

type UrlToImageReader func(url string) (io.ReadCloser, error)

func in(s string, arr []string) bool {
	for _, a := range arr {
		if a == s {
			return true
		}
	}
	return false
}

// firstPropAsString returns the first string value of a property. Image
// properties with alt text arrive as a map holding the URL under "value".
func firstPropAsString(uf *microformats.Microformat, key string) string {
	for _, sint := range uf.Properties[key] {
		switch v := sint.(type) {
		case string:
			return v
		case map[string]string:
			return v["value"]
		case map[string]interface{}:
			if s, ok := v["value"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func findHEntry(u2r UrlToImageReader, mention *Mention, data *microformats.Data, items []*microformats.Microformat) []byte {
	var thumb []byte
	for _, it := range items {
		if in("h-entry", it.Type) {
			mention.Title = firstPropAsString(it, "name")
			if strings.HasPrefix(mention.Title, "tag:twitter") {
				mention.Title = "Twitter"
				if firstPropAsString(it, "like-of") != "" {
					mention.Title += " Like"
				}
				if firstPropAsString(it, "repost-of") != "" {
					mention.Title += " Repost"
				}
			}
			if t, ok := parseTime(firstPropAsString(it, "published")); ok {
				mention.Published = t
			}
			if authorsInt, ok := it.Properties["author"]; ok {
				for _, authorInt := range authorsInt {
					if author, ok := authorInt.(*microformats.Microformat); ok {
						if b := findAuthor(u2r, mention, data, author); b != nil {
							thumb = b
						}
					}
				}
			}
		}
		if b := findHEntry(u2r, mention, data, it.Children); b != nil {
			thumb = b
		}
	}
	return thumb
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02",
}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

type Thumbnail struct {
	PNG []byte `firestore:"png"`
}

func MakeUrlToImageReader(c *http.Client) UrlToImageReader {
	return func(u string) (io.ReadCloser, error) {
		resp, err := c.Get(u)
		if err != nil {
			return nil, fmt.Errorf("Error retrieving thumbnail: %s", err)
		}
		if resp.StatusCode != 200 {
			close(resp.Body)
			return nil, fmt.Errorf("Not a 200 response: %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
}

// makeThumbnail decodes an image and shrinks its longer side to
// THUMBNAIL_SIZE, returning PNG bytes.
func makeThumbnail(r io.Reader) ([]byte, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode photo: %s", err)
	}
	rect := img.Bounds()
	var x uint = THUMBNAIL_SIZE
	var y uint = THUMBNAIL_SIZE
	if rect.Dx() > rect.Dy() {
		y = 0
	} else {
		x = 0
	}
	resized := resize.Resize(x, y, img, resize.Lanczos3)

	var buf bytes.Buffer
	encoder := png.Encoder{
		CompressionLevel: png.BestCompression,
	}
	if err := encoder.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("Failed to encode photo: %s", err)
	}
	return buf.Bytes(), nil
}

func findAuthor(u2r UrlToImageReader, mention *Mention, data *microformats.Data, it *microformats.Microformat) []byte {
	glog.V(1).Infof("Found author in microformat.")
	mention.Author = strings.TrimSpace(it.Value)
	if authors := data.Rels["author"]; len(authors) > 0 {
		mention.AuthorURL = authors[0]
	} else if u := firstPropAsString(it, "url"); u != "" {
		mention.AuthorURL = u
	}
	u := firstPropAsString(it, "photo")
	if u == "" {
		glog.V(1).Infof("No photo URL found.")
		return nil
	}

	r, err := u2r(u)
	if err != nil {
		glog.Warningf("Failed to retrieve photo: %s", err)
		return nil
	}
	defer close(r)
	b, err := makeThumbnail(r)
	if err != nil {
		glog.Warningf("%s", err)
		return nil
	}
	mention.Thumbnail = fmt.Sprintf("%x", md5.Sum(b))
	return b
}

func (m *Mentions) putThumbnail(ctx context.Context, hash string, b []byte) error {
	_, err := m.DS.Collection(THUMBNAIL).Doc(hash).Set(ctx, &Thumbnail{PNG: b})
	return err
}

func (m *Mentions) GetThumbnail(ctx context.Context, id string) ([]byte, error) {
	doc, err := m.DS.Collection(THUMBNAIL).Doc(id).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to find image: %w", err)
	}
	var t Thumbnail
	if err := doc.DataTo(&t); err != nil {
		return nil, err
	}
	return t.PNG, nil
}
