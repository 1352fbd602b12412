package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/ds"
)

func TestRoleAllows(t *testing.T) {
	assert.True(t, ADMIN.Allows(EDITOR))
	assert.True(t, ADMIN.Allows(ADMIN))
	assert.True(t, EDITOR.Allows(VIEWER))
	assert.False(t, EDITOR.Allows(ADMIN))
	assert.False(t, VIEWER.Allows(EDITOR))
	assert.False(t, Role("").Allows(VIEWER))
	assert.False(t, Role("root").Allows(VIEWER))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Editor ")
	assert.NoError(t, err)
	assert.Equal(t, EDITOR, r)
	_, err = ParseRole("superuser")
	assert.Equal(t, ErrBadRole, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Joe", (&User{Name: "Joe", Email: "joe@example.org"}).DisplayName())
	assert.Equal(t, "joe", (&User{Email: "joe@example.org"}).DisplayName())
	assert.Equal(t, "uid1", (&User{UID: "uid1"}).DisplayName())
}

func TestRefresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	u := &User{UID: "u1", Email: "a@example.org", Name: "A", Role: VIEWER, LastLogin: now.Add(-time.Minute)}

	// Nothing new, so no write is needed.
	assert.False(t, refresh(u, "a@example.org", "", "", false, now))
	assert.False(t, refresh(u, "", "A", "", false, now))
	assert.Equal(t, now.Add(-time.Minute), u.LastLogin)

	assert.True(t, refresh(u, "b@example.org", "", "", false, now))
	assert.Equal(t, "b@example.org", u.Email)

	assert.True(t, refresh(u, "", "", "", false, now.Add(time.Hour)))
	assert.Equal(t, now.Add(time.Hour), u.LastLogin)

	assert.True(t, refresh(u, "", "", "", true, now.Add(time.Hour)))
	assert.Equal(t, ADMIN, u.Role)
	assert.False(t, refresh(u, "", "", "", true, now.Add(time.Hour)))
}

func initForTesting(t *testing.T) *Store {
	d, ok, err := ds.InitForTesting(context.Background())
	if !ok {
		t.Skip("Firestore emulator is not available. Set FIRESTORE_EMULATOR_HOST to run these tests.")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return New(d)
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := initForTesting(t)

	admin, err := s.Ensure(ctx, "a1", "admin@example.org", "Admin", "", true)
	require.NoError(t, err)
	assert.Equal(t, ADMIN, admin.Role)

	viewer, err := s.Ensure(ctx, "v1", "viewer@example.org", "", "", false)
	require.NoError(t, err)
	assert.Equal(t, VIEWER, viewer.Role)

	// A second sign-in keeps the stored role.
	require.NoError(t, s.SetRole(ctx, "v1", EDITOR))
	again, err := s.Ensure(ctx, "v1", "viewer@example.org", "Vee", "", false)
	require.NoError(t, err)
	assert.Equal(t, EDITOR, again.Role)
	assert.Equal(t, "Vee", again.Name)

	users, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a1", users[0].UID)

	assert.Equal(t, ErrLastAdmin, s.SetRole(ctx, "a1", VIEWER))
	assert.Equal(t, ErrLastAdmin, s.Delete(ctx, "a1"))
	assert.Equal(t, ErrNotFound, s.SetRole(ctx, "nobody", EDITOR))
	assert.Equal(t, ErrBadRole, s.SetRole(ctx, "v1", Role("root")))

	require.NoError(t, s.SetRole(ctx, "v1", ADMIN))
	require.NoError(t, s.SetRole(ctx, "a1", VIEWER))
	require.NoError(t, s.Delete(ctx, "a1"))
	_, err = s.Get(ctx, "a1")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, s.Delete(ctx, "a1"))
}
