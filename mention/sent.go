package mention

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"willnorris.com/go/webmention"

	"github.com/jcgregorio/gamesite/ds"
)

type WebMentionSent struct {
	TS time.Time `firestore:"ts"`
}

func sentKey(source string) string {
	return url.PathEscape(source)
}

func (m *Mentions) sent(ctx context.Context, source string) (time.Time, bool) {
	doc, err := m.DS.Collection(WEB_MENTION_SENT).Doc(sentKey(source)).Get(ctx)
	if err != nil {
		if !ds.IsNotFound(err) {
			glog.Warningf("Failed to look up sent state of %q: %s", source, err)
		}
		return time.Time{}, false
	}
	var dst WebMentionSent
	if err := doc.DataTo(&dst); err != nil {
		return time.Time{}, false
	}
	return dst.TS, true
}

func (m *Mentions) recordSent(ctx context.Context, source string, updated time.Time) error {
	_, err := m.DS.Collection(WEB_MENTION_SENT).Doc(sentKey(source)).Set(ctx, &WebMentionSent{
		TS: updated.UTC(),
	})
	return err
}

// Send discovers the links in html, the content of the page at source, and
// sends a webmention to every target that advertises an endpoint. It returns
// the targets that accepted.
func Send(c *http.Client, source, html string) ([]string, error) {
	links, err := webmention.DiscoverLinksFromReader(strings.NewReader(html), source, "")
	if err != nil {
		return nil, fmt.Errorf("Failed while discovering links in %q: %s", source, err)
	}
	wmc := webmention.New(c)
	ret := []string{}
	for _, target := range links {
		if target == source {
			continue
		}
		glog.V(1).Infof("  to Target: %s", target)
		endpoint, err := wmc.DiscoverEndpoint(target)
		if err != nil {
			glog.Infof("Failed looking for endpoint: %s", err)
			continue
		} else if endpoint == "" {
			glog.V(1).Infof("No webmention support at: %s", target)
			continue
		}
		resp, err := wmc.SendWebmention(endpoint, source, target)
		if err != nil {
			glog.Warningf("Error sending webmention to %s: %s", target, err)
			continue
		}
		close(resp.Body)
		glog.Infof("Sent webmention from %s to %s", source, target)
		ret = append(ret, target)
	}
	return ret, nil
}

// SendForPost sends webmentions for a published post unless they were already
// sent for this or a later revision.
func (m *Mentions) SendForPost(ctx context.Context, c *http.Client, source, html string, updated time.Time) error {
	if ts, ok := m.sent(ctx, source); ok && !updated.After(ts.Add(time.Second)) {
		glog.Infof("Skipping since already sent: %s", source)
		return nil
	}
	glog.Infof("Processing Source: %s", source)
	if _, err := Send(c, source, html); err != nil {
		return err
	}
	if err := m.recordSent(ctx, source, updated); err != nil {
		return fmt.Errorf("Failed recording Sent state: %w", err)
	}
	return nil
}
