package settings

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/ds"
)

func TestValidate(t *testing.T) {
	s := Defaults()
	assert.NoError(t, s.Validate())

	s.ContactEmail = "not an email"
	assert.Error(t, s.Validate())

	s = Defaults()
	s.PostsPerPage = 0
	assert.Error(t, s.Validate())

	s = Defaults()
	s.Social = []Link{{Name: "itch", URL: "https://itch.io/profile/me"}}
	assert.NoError(t, s.Validate())
	s.Social = append(s.Social, Link{Name: "bad", URL: "javascript:void(0)"})
	assert.Error(t, s.Validate())

	s = Defaults()
	s.SiteName = ""
	assert.Error(t, s.Validate())
}

func TestGet_CachedCopiesAreIndependent(t *testing.T) {
	now := time.Now()
	cached := Defaults()
	cached.Social = []Link{{Name: "itch", URL: "https://itch.io/profile/me"}}
	s := &Store{cached: cached, fetched: now, now: func() time.Time { return now }}

	got, err := s.Get(context.Background())
	require.NoError(t, err)
	got.Social[0].URL = "https://evil.example.com"
	got.Social = append(got.Social, Link{Name: "x", URL: "https://x.example"})

	again, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Link{{Name: "itch", URL: "https://itch.io/profile/me"}}, again.Social)
}

func TestCopy(t *testing.T) {
	s := Defaults()
	s.Social = []Link{{Name: "a", URL: "https://a.example"}}
	cp := s.Copy()
	cp.Social[0].Name = "b"
	assert.Equal(t, "a", s.Social[0].Name)
	assert.Equal(t, []Link{}, Defaults().Copy().Social)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	d, ok, err := ds.InitForTesting(ctx)
	if !ok {
		t.Skip("Firestore emulator is not available. Set FIRESTORE_EMULATOR_HOST to run these tests.")
	}
	require.NoError(t, err)
	defer d.Close()

	now := time.Now()
	s := New(d)
	s.now = func() time.Time { return now }

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, Defaults().SiteName, got.SiteName)

	got.SiteName = "Pixel Forge"
	got.ContactEmail = "hello@example.org"
	require.NoError(t, s.Put(ctx, got))

	// A fresh store reads it back from Firestore.
	fresh := New(d)
	again, err := fresh.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Pixel Forge", again.SiteName)
	assert.Equal(t, "hello@example.org", again.ContactEmail)

	// Writes from elsewhere are picked up once the cache expires.
	_, err = d.Collection(SETTINGS).Doc(docID).Update(ctx, []firestore.Update{{Path: "tagline", Value: "Changed"}})
	require.NoError(t, err)
	cached, err := s.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "Changed", cached.Tagline)

	now = now.Add(2 * CACHE_TTL)
	expired, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Changed", expired.Tagline)
}
