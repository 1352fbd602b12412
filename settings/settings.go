// Package settings stores the site-wide settings edited from the dashboard.
package settings

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/jcgregorio/gamesite/ds"
)

const (
	SETTINGS ds.Kind = "Settings"

	// All settings live in a single document.
	docID = "site"

	CACHE_TTL = time.Minute
)

// Link is a named external link, e.g. to a social profile.
type Link struct {
	Name string `firestore:"name" json:"name"`
	URL  string `firestore:"url" json:"url"`
}

type Settings struct {
	SiteName     string    `firestore:"siteName" json:"siteName"`
	Tagline      string    `firestore:"tagline" json:"tagline"`
	About        string    `firestore:"about" json:"about"`
	ContactEmail string    `firestore:"contactEmail" json:"contactEmail"`
	Social       []Link    `firestore:"social" json:"social"`
	HeroProject  string    `firestore:"heroProject" json:"heroProject"`
	PostsPerPage int       `firestore:"postsPerPage" json:"postsPerPage"`
	Updated      time.Time `firestore:"updated" json:"updated"`
}

func Defaults() *Settings {
	return &Settings{
		SiteName:     "Game Studio",
		Tagline:      "Games, tools and devlogs.",
		PostsPerPage: 10,
		Social:       []Link{},
	}
}

// Copy returns a copy of s that shares no slices with it.
func (s *Settings) Copy() *Settings {
	ret := *s
	ret.Social = append([]Link{}, s.Social...)
	return &ret
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.SiteName) == "" {
		return fmt.Errorf("Site name is required.")
	}
	if s.ContactEmail != "" {
		if _, err := mail.ParseAddress(s.ContactEmail); err != nil {
			return fmt.Errorf("Contact email is not valid: %s", err)
		}
	}
	if s.PostsPerPage < 1 || s.PostsPerPage > 100 {
		return fmt.Errorf("Posts per page must be between 1 and 100.")
	}
	for _, l := range s.Social {
		u, err := url.Parse(l.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("Link %q must be an http(s) URL.", l.Name)
		}
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("Link %q needs a name.", l.URL)
		}
	}
	return nil
}

// Store reads and writes the settings document, caching reads for CACHE_TTL.
type Store struct {
	DS *ds.DS

	mutex   sync.Mutex
	cached  *Settings
	fetched time.Time
	now     func() time.Time
}

func New(d *ds.DS) *Store {
	return &Store{
		DS:  d,
		now: time.Now,
	}
}

func (s *Store) ref() *firestore.DocumentRef {
	return s.DS.Collection(SETTINGS).Doc(docID)
}

// Get returns the current settings, or the defaults if none were saved yet.
func (s *Store) Get(ctx context.Context) (*Settings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.cached != nil && s.now().Sub(s.fetched) < CACHE_TTL {
		return s.cached.Copy(), nil
	}
	doc, err := s.ref().Get(ctx)
	var ret *Settings
	if ds.IsNotFound(err) {
		ret = Defaults()
	} else if err != nil {
		return nil, fmt.Errorf("Failed to read settings: %w", err)
	} else {
		ret = Defaults()
		if err := doc.DataTo(ret); err != nil {
			return nil, fmt.Errorf("Failed to decode settings: %w", err)
		}
	}
	s.cached = ret
	s.fetched = s.now()
	return ret.Copy(), nil
}

func (s *Store) Put(ctx context.Context, settings *Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	settings.Updated = time.Now().UTC()
	if settings.Social == nil {
		settings.Social = []Link{}
	}
	if _, err := s.ref().Set(ctx, settings); err != nil {
		return fmt.Errorf("Failed to write settings: %w", err)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cached = settings.Copy()
	s.fetched = s.now()
	return nil
}
