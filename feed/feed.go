// Package feed writes the Atom feed of blog posts and the sitemap.
package feed

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/jcgregorio/gamesite/markup"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/slug"
)

const (
	ATOM_NS    = "http://www.w3.org/2005/Atom"
	SITEMAP_NS = "http://www.sitemaps.org/schemas/sitemap/0.9"

	MAX_ENTRIES = 20
)

type link struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
}

type text struct {
	Type string `xml:"type,attr,omitempty"`
	Body string `xml:",chardata"`
}

type author struct {
	Name string `xml:"name"`
}

type entry struct {
	Title     string  `xml:"title"`
	Link      link    `xml:"link"`
	ID        string  `xml:"id"`
	Updated   string  `xml:"updated"`
	Published string  `xml:"published,omitempty"`
	Author    *author `xml:"author,omitempty"`
	Summary   text    `xml:"summary"`
	Content   text    `xml:"content"`
}

type atomFeed struct {
	XMLName  xml.Name `xml:"feed"`
	NS       string   `xml:"xmlns,attr"`
	Title    string   `xml:"title"`
	Subtitle string   `xml:"subtitle,omitempty"`
	Links    []link   `xml:"link"`
	ID       string   `xml:"id"`
	Updated  string   `xml:"updated"`
	Entries  []entry  `xml:"entry"`
}

// PostURL is the public URL of a post.
func PostURL(host, s string) string {
	return fmt.Sprintf("%s/blog/%s", host, s)
}

// Atom renders up to MAX_ENTRIES published posts, which must already be
// sorted newest first.
func Atom(title, subtitle, host string, posts []*post.Post) ([]byte, error) {
	f := atomFeed{
		NS:       ATOM_NS,
		Title:    title,
		Subtitle: subtitle,
		Links: []link{
			{Href: host + "/"},
			{Href: host + "/feed.atom", Rel: "self"},
		},
		ID:      host + "/",
		Entries: []entry{},
	}
	var updated time.Time
	for _, p := range posts {
		if !p.Published {
			continue
		}
		if len(f.Entries) == MAX_ENTRIES {
			break
		}
		if p.Updated.After(updated) {
			updated = p.Updated
		}
		u := PostURL(host, p.Slug)
		e := entry{
			Title:     p.Title,
			Link:      link{Href: u},
			ID:        u,
			Updated:   p.Updated.UTC().Format(time.RFC3339),
			Published: p.PublishedAt.UTC().Format(time.RFC3339),
			Summary:   text{Body: p.Excerpt},
			Content:   text{Type: "html", Body: string(markup.Render(p.Body))},
		}
		if p.AuthorName != "" {
			e.Author = &author{Name: p.AuthorName}
		}
		f.Entries = append(f.Entries, e)
	}
	if updated.IsZero() {
		updated = time.Unix(0, 0)
	}
	f.Updated = updated.UTC().Format(time.RFC3339)
	b, err := xml.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("Failed to encode feed: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}

type sitemapURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	NS      string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

// Sitemap lists the static pages followed by every project and post page.
func Sitemap(host string, static []string, projects, posts []slug.Entry) ([]byte, error) {
	set := urlSet{NS: SITEMAP_NS}
	for _, path := range static {
		set.URLs = append(set.URLs, sitemapURL{Loc: host + path})
	}
	add := func(prefix string, entries []slug.Entry) {
		for _, e := range entries {
			u := sitemapURL{Loc: fmt.Sprintf("%s%s/%s", host, prefix, e.Slug)}
			if !e.Updated.IsZero() {
				u.LastMod = e.Updated.UTC().Format("2006-01-02")
			}
			set.URLs = append(set.URLs, u)
		}
	}
	add("/projects", projects)
	add("/blog", posts)
	b, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("Failed to encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), b...), nil
}
