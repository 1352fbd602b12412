// Package project stores the game-development projects shown on the site.
package project

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
	"github.com/jcgregorio/gamesite/slug"
)

const (
	PROJECTS ds.Kind = "Projects"

	MAX_TITLE = 200
)

var (
	ErrNotFound  = errors.New("project not found")
	ErrSlugTaken = errors.New("slug is already used by another project")
)

type Project struct {
	ID         string    `firestore:"-" json:"id"`
	Slug       string    `firestore:"slug" json:"slug"`
	Title      string    `firestore:"title" json:"title"`
	Summary    string    `firestore:"summary" json:"summary"`
	Body       string    `firestore:"body" json:"body"`
	Engine     string    `firestore:"engine" json:"engine"`
	Platforms  []string  `firestore:"platforms" json:"platforms"`
	Tags       []string  `firestore:"tags" json:"tags"`
	CoverImage string    `firestore:"coverImage" json:"coverImage"`
	Gallery    []string  `firestore:"gallery" json:"gallery"`
	RepoURL    string    `firestore:"repoUrl" json:"repoUrl"`
	PlayURL    string    `firestore:"playUrl" json:"playUrl"`
	Featured   bool      `firestore:"featured" json:"featured"`
	Published  bool      `firestore:"published" json:"published"`
	Order      int       `firestore:"order" json:"order"`
	Created    time.Time `firestore:"created" json:"created"`
	Updated    time.Time `firestore:"updated" json:"updated"`
}

func validURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must be an http(s) URL", s)
	}
	return nil
}

// Validate checks the fields an editor fills in.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("Title is required.")
	}
	if len(p.Title) > MAX_TITLE {
		return fmt.Errorf("Title is too long.")
	}
	if !slug.Valid(p.Slug) {
		return fmt.Errorf("Slug %q is not valid.", p.Slug)
	}
	for _, u := range append([]string{p.CoverImage, p.RepoURL, p.PlayURL}, p.Gallery...) {
		if err := validURL(u); err != nil {
			return fmt.Errorf("Bad URL: %s", err)
		}
	}
	return nil
}

type Store struct {
	DS *ds.DS
}

func New(d *ds.DS) *Store {
	return &Store{DS: d}
}

func (s *Store) coll() *firestore.CollectionRef {
	return s.DS.Collection(PROJECTS)
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*Project, error) {
	p := &Project{}
	if err := doc.DataTo(p); err != nil {
		return nil, fmt.Errorf("Failed to decode project %s: %w", doc.Ref.ID, err)
	}
	p.ID = doc.Ref.ID
	return p, nil
}

func readAll(it *firestore.DocumentIterator) ([]*Project, error) {
	defer it.Stop()
	ret := []*Project{}
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

// Sort orders projects by Order ascending, newest first within the same Order.
func Sort(projects []*Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Order != projects[j].Order {
			return projects[i].Order < projects[j].Order
		}
		return projects[i].Created.After(projects[j].Created)
	})
}

// List returns all projects, or only the published ones.
func (s *Store) List(ctx context.Context, publishedOnly bool) ([]*Project, error) {
	q := s.coll().Query
	if publishedOnly {
		q = q.Where("published", "==", true)
	}
	ret, err := readAll(q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	Sort(ret)
	return ret, nil
}

// Featured returns up to n published projects marked as featured.
func (s *Store) Featured(ctx context.Context, n int) ([]*Project, error) {
	all, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	ret := []*Project{}
	for _, p := range all {
		if p.Featured && len(ret) < n {
			ret = append(ret, p)
		}
	}
	return ret, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	doc, err := s.coll().Doc(id).Get(ctx)
	if ds.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Failed to get project %q: %w", id, err)
	}
	return fromSnapshot(doc)
}

func (s *Store) GetBySlug(ctx context.Context, name string) (*Project, error) {
	ret, err := readAll(s.coll().Where("slug", "==", name).Limit(1).Documents(ctx))
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, ErrNotFound
	}
	return ret[0], nil
}

// Put creates the project if it has no ID, otherwise replaces it. The slug is
// derived from the title when empty and must not belong to another project.
func (s *Store) Put(ctx context.Context, p *Project) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Slug == "" {
		p.Slug = slug.Make(p.Title)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	var ref *firestore.DocumentRef
	if p.ID == "" {
		ref = s.coll().NewDoc()
	} else {
		ref = s.coll().Doc(p.ID)
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
		created := now
		if p.ID != "" {
			doc, err := tx.Get(ref)
			if err == nil {
				old, err := fromSnapshot(doc)
				if err != nil {
					return err
				}
				created = old.Created
			} else if !ds.IsNotFound(err) {
				return err
			}
		}
		next := *p
		next.Created = created
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
		return fmt.Errorf("Failed writing project %q: %w", p.Title, err)
	}
	p.ID = ref.ID
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.coll().Doc(id).Delete(ctx, firestore.Exists); err != nil {
		if ds.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("Failed to delete project %q: %w", id, err)
	}
	return nil
}

// Slugs lists every published project page.
func (s *Store) Slugs(ctx context.Context) ([]slug.Entry, error) {
	all, err := s.List(ctx, true)
	if err != nil {
		return nil, err
	}
	ret := make([]slug.Entry, 0, len(all))
	for _, p := range all {
		ret = append(ret, slug.Entry{Slug: p.Slug, Updated: p.Updated})
	}
	return ret, nil
}
