package message

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcgregorio/gamesite/ds"
)

func TestValidate(t *testing.T) {
	good := func() *Message {
		return &Message{Name: " Ada ", Email: "Ada <ada@example.org>", Body: " Love the game! "}
	}
	m := good()
	require.NoError(t, m.Validate())
	assert.Equal(t, "Ada", m.Name)
	assert.Equal(t, "ada@example.org", m.Email)
	assert.Equal(t, "Love the game!", m.Body)

	m = good()
	m.Honeypot = "http://spam.example.com"
	assert.Error(t, m.Validate())

	m = good()
	m.Email = "ada"
	assert.Error(t, m.Validate())

	m = good()
	m.Body = "   "
	assert.Error(t, m.Validate())

	m = good()
	m.Body = strings.Repeat("x", MAX_BODY+1)
	assert.Error(t, m.Validate())

	m = good()
	m.Name = ""
	assert.Error(t, m.Validate())
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	d, ok, err := ds.InitForTesting(ctx)
	if !ok {
		t.Skip("Firestore emulator is not available. Set FIRESTORE_EMULATOR_HOST to run these tests.")
	}
	require.NoError(t, err)
	defer d.Close()
	s := New(d)

	first := &Message{Name: "Ada", Email: "ada@example.org", Body: "First"}
	require.NoError(t, s.Put(ctx, first))
	second := &Message{Name: "Bob", Email: "bob@example.org", Body: "Second"}
	require.NoError(t, s.Put(ctx, second))

	all, err := s.List(ctx, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	n, err := s.Unread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.MarkRead(ctx, first.ID, true))
	unread, err := s.List(ctx, true, 10, 0)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Read)

	assert.Equal(t, ErrNotFound, s.MarkRead(ctx, "missing", true))
	require.NoError(t, s.Delete(ctx, first.ID))
	assert.Equal(t, ErrNotFound, s.Delete(ctx, first.ID))
}
