// Package post stores blog posts.
package post

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/jcgregorio/gamesite/ds"
	"github.com/jcgregorio/gamesite/markup"
	"github.com/jcgregorio/gamesite/slug"
)

const (
	POSTS ds.Kind = "Posts"

	// REACTIONS is the subcollection of a post holding one document per user.
	REACTIONS = "reactions"

	MAX_TITLE   = 200
	EXCERPT_LEN = 240
)

var (
	ErrNotFound  = errors.New("post not found")
	ErrSlugTaken = errors.New("slug is already used by another post")
)

type Post struct {
	ID          string           `firestore:"-" json:"id"`
	Slug        string           `firestore:"slug" json:"slug"`
	Title       string           `firestore:"title" json:"title"`
	Excerpt     string           `firestore:"excerpt" json:"excerpt"`
	Body        string           `firestore:"body" json:"body"`
	Tags        []string         `firestore:"tags" json:"tags"`
	CoverImage  string           `firestore:"coverImage" json:"coverImage"`
	AuthorUID   string           `firestore:"authorUid" json:"authorUid"`
	AuthorName  string           `firestore:"authorName" json:"authorName"`
	Published   bool             `firestore:"published" json:"published"`
	PublishedAt time.Time        `firestore:"publishedAt" json:"publishedAt"`
	Created     time.Time        `firestore:"created" json:"created"`
	Updated     time.Time        `firestore:"updated" json:"updated"`
	Reactions   map[string]int64 `firestore:"reactions" json:"reactions"`
}

func (p *Post) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("Title is required.")
	}
	if len(p.Title) > MAX_TITLE {
		return fmt.Errorf("Title is too long.")
	}
	if !slug.Valid(p.Slug) {
		return fmt.Errorf("Slug %q is not valid.", p.Slug)
	}
	if p.CoverImage != "" {
		u, err := url.Parse(p.CoverImage)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("Cover image must be an http(s) URL.")
		}
	}
	return nil
}

// CleanTags lower-cases, trims and de-duplicates tags, dropping empty ones.
func CleanTags(tags []string) []string {
	seen := map[string]bool{}
	ret := []string{}
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		ret = append(ret, t)
	}
	return ret
}

type Store struct {
	DS *ds.DS
}

func New(d *ds.DS) *Store {
	return &Store{DS: d}
}

func (s *Store) coll() *firestore.CollectionRef {
	return s.DS.Collection(POSTS)
}

// Ref is the document for the post with the given id.
func (s *Store) Ref(id string) *firestore.DocumentRef {
	return s.coll().Doc(id)
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*Post, error) {
	p := &Post{}
	if err := doc.DataTo(p); err != nil {
		return nil, fmt.Errorf("Failed to decode post %s: %w", doc.Ref.ID, err)
	}
	p.ID = doc.Ref.ID
	if p.Reactions == nil {
		p.Reactions = map[string]int64{}
	}
	return p, nil
}

func readAll(it *firestore.DocumentIterator) ([]*Post, error) {
	defer it.Stop()
	ret := []*Post{}
	for {
		doc, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Failed while reading: %w", err)
		}
		p, err := fromSnapshot(doc)
		if err != nil {
			return nil, err
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// sortKey is when a post appeared, or when a draft was last touched.
func sortKey(p *Post) time.Time {
	if p.Published && !p.PublishedAt.IsZero() {
		return p.PublishedAt
	}
	return p.Updated
}

// Sort orders posts newest first.
func Sort(posts []*Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return sortKey(posts[i]).After(sortKey(posts[j]))
	})
}

func page(posts []*Post, limit, offset int) []*Post {
	if offset >= len(posts) {
		return []*Post{}
	}
	if offset < 0 {
		offset = 0
	}
	posts = posts[offset:]
	if limit > 0 && limit < len(posts) {
		posts = posts[:limit]
	}
	return posts
}

// List returns posts newest first. A limit of 0 means no limit.
func (s *Store) List(ctx context.Context, publishedOnly bool, limit, offset int) ([]*Post, error) {
	q := s.coll().Query
	if publishedOnly {
		q = q.Where("published", "==", true)
	}
	ret, err := readAll(q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	Sort(ret)
	return page(ret, limit, offset), nil
}

// ListByTag returns the published posts carrying tag.
func (s *Store) ListByTag(ctx context.Context, tag string) ([]*Post, error) {
	q := s.coll().Where("published", "==", true).Where("tags", "array-contains", strings.ToLower(tag))
	ret, err := readAll(q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	Sort(ret)
	return ret, nil
}

// Tags counts the published posts per tag.
func (s *Store) Tags(ctx context.Context) (map[string]int, error) {
	all, err := s.List(ctx, true, 0, 0)
	if err != nil {
		return nil, err
	}
	ret := map[string]int{}
	for _, p := range all {
		for _, t := range p.Tags {
			ret[t]++
		}
	}
	return ret, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Post, error) {
	doc, err := s.Ref(id).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to get post %q: %w", id, err)
	}
	return fromSnapshot(doc)
}

func (s *Store) GetBySlug(ctx context.Context, name string) (*Post, error) {
	ret, err := readAll(s.coll().Where("slug", "==", name).Limit(1).Documents(ctx))
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, ErrNotFound
	}
	return ret[0], nil
}

// Put creates or replaces a post. Reaction counters are owned by the reaction
// package and are always carried over from the stored document.
func (s *Store) Put(ctx context.Context, p *Post) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}
	p.Tags = CleanTags(p.Tags)
	if strings.TrimSpace(p.Excerpt) == "" {
		p.Excerpt = markup.Excerpt(p.Body, EXCERPT_LEN)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	var ref *firestore.DocumentRef
	if p.ID == "" {
		ref = s.coll().NewDoc()
	} else {
		ref = s.Ref(p.ID)
	}
	now := time.Now().UTC()
	err := s.DS.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		owners, err := tx.Documents(s.coll().Where("slug", "==", p.Slug)).GetAll()
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if owner.Ref.ID != ref.ID {
				return ErrSlugTaken
			}
		}
		next := *p
		next.Created = now
		next.Reactions = map[string]int64{}
		if p.ID != "" {
			doc, err := tx.Get(ref)
			if err == nil {
				old, err := fromSnapshot(doc)
				if err != nil {
					return err
				}
				next.Created = old.Created
				next.Reactions = old.Reactions
				if next.PublishedAt.IsZero() {
					next.PublishedAt = old.PublishedAt
				}
			} else if !ds.IsNotFound(err) {
				return err
			}
		}
		if next.Published && next.PublishedAt.IsZero() {
			next.PublishedAt = now
		}
		next.Updated = now
		if err := tx.Set(ref, &next); err != nil {
			return err
		}
		*p = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSlugTaken) {
			return ErrSlugTaken
		}
		return fmt.Errorf("Failed writing post %q: %w", p.Title, err)
	}
	p.ID = ref.ID
	return nil
}

// Delete removes the post and all of its reactions.
func (s *Store) Delete(ctx context.Context, id string) error {
	ref := s.Ref(id)
	if _, err := s.DS.DeleteQuery(ctx, ref.Collection(REACTIONS).Query); err != nil {
		return fmt.Errorf("Failed to delete reactions of %q: %w", id, err)
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("Failed to delete post %q: %w", id, err)
	}
	return nil
}

// Slugs lists every published post page.
func (s *Store) Slugs(ctx context.Context) ([]slug.Entry, error) {
	all, err := s.List(ctx, true, 0, 0)
	if err != nil {
		return nil, err
	}
	ret := make([]slug.Entry, 0, len(all))
	for _, p := range all {
		ret = append(ret, slug.Entry{Slug: p.Slug, Updated: p.Updated})
	}
	return ret, nil
}
