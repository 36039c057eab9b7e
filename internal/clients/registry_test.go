package clients_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohmanhakim/gravity-worker/internal/clients"
	"github.com/rohmanhakim/gravity-worker/internal/metadata/metadatatest"
)

func TestRegistry_RegisterAssignsUUID(t *testing.T) {
	sink := &metadatatest.Sink{}
	r := clients.NewRegistry(sink)

	c, err := r.Register("https://gravity.example.com/")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(c.ID)
	assert.NoError(t, parseErr)
	assert.Empty(t, c.Controller)
	assert.Equal(t, []string{"client registered"}, sink.Notices())
}

func TestRegistry_RegisterRejectsBadURL(t *testing.T) {
	r := clients.NewRegistry(&metadatatest.Sink{})
	_, err := r.Register("http://[::1")
	assert.Error(t, err)
}

func TestRegistry_ClaimTakesControl(t *testing.T) {
	r := clients.NewRegistry(&metadatatest.Sink{})
	_, _ = r.Register("https://gravity.example.com/")
	_, _ = r.Register("https://gravity.example.com/index.html")

	assert.Equal(t, 2, r.Claim("v1"))
	assert.Len(t, r.Controlled("v1"), 2)

	assert.Equal(t, 0, r.Claim("v1"), "already controlled")
	assert.Equal(t, 2, r.Claim("v2"))
	assert.Empty(t, r.Controlled("v1"))
}

func TestRegistry_MatchAllInOpenOrder(t *testing.T) {
	r := clients.NewRegistry(&metadatatest.Sink{})
	first, _ := r.Register("https://gravity.example.com/a")
	second, _ := r.Register("https://gravity.example.com/b")
	third, _ := r.Register("https://gravity.example.com/c")

	all := r.MatchAll()
	require.Len(t, all, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	assert.True(t, r.Unregister(second.ID))
	assert.False(t, r.Unregister(second.ID))
	assert.Len(t, r.MatchAll(), 2)
}

func TestRegistry_FocusIsExclusive(t *testing.T) {
	r := clients.NewRegistry(&metadatatest.Sink{})
	a, _ := r.Register("https://gravity.example.com/a")
	b, _ := r.Register("https://gravity.example.com/b")

	_, ok := r.Focus(a.ID)
	require.True(t, ok)
	got, ok := r.Focus(b.ID)
	require.True(t, ok)
	assert.True(t, got.Focused)

	for _, c := range r.MatchAll() {
		assert.Equal(t, c.ID == b.ID, c.Focused)
	}

	_, ok = r.Focus("missing")
	assert.False(t, ok)
}

func TestRegistry_OpenWindow(t *testing.T) {
	r := clients.NewRegistry(&metadatatest.Sink{})
	c, err := r.OpenWindow("https://gravity.example.com/")
	require.NoError(t, err)

	assert.True(t, c.Focused)
	assert.Len(t, r.MatchAll(), 1)
}
