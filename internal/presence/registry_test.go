package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfera/internal/models"
)

func TestRegistry_OfflineRetainsEntry(t *testing.T) {
	r := NewRegistry()
	r.Upsert(models.User{
		ID:       "u2",
		Name:     "Bob",
		Online:   true,
		Position: &models.Position{1, 2, 3},
	})

	require.True(t, r.SetOnline("u2", false))

	u, ok := r.Get("u2")
	require.True(t, ok)
	assert.False(t, u.Online)
	assert.Equal(t, "Bob", u.Name)
	require.NotNil(t, u.Position)
	assert.Equal(t, models.Position{1, 2, 3}, *u.Position)
}

func TestRegistry_UpsertKeepsLastKnownPosition(t *testing.T) {
	r := NewRegistry()
	r.Upsert(models.User{ID: "u2", Name: "Bob", Position: &models.Position{1, 0, 0}})

	// A later announce without a position must not lose the old one.
	r.Upsert(models.User{ID: "u2", Name: "Bobby", Online: true})

	u, _ := r.Get("u2")
	assert.Equal(t, "Bobby", u.Name)
	require.NotNil(t, u.Position)
	assert.Equal(t, models.Position{1, 0, 0}, *u.Position)
}

func TestRegistry_PositionUpdateForUnknownUserIgnored(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.UpdatePosition("ghost", models.Position{1, 1, 1}))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveIsFinal(t *testing.T) {
	r := NewRegistry()

	// Any mix of online/offline toggles before or after a removal must
	// not resurrect the entry without a fresh upsert.
	r.Upsert(models.User{ID: "u2", Online: true})
	r.SetOnline("u2", false)
	r.SetOnline("u2", true)
	r.Remove("u2")

	_, ok := r.Get("u2")
	assert.False(t, ok)
	assert.False(t, r.SetOnline("u2", true))
	assert.False(t, r.UpdatePosition("u2", models.Position{}))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ListOnline(t *testing.T) {
	r := NewRegistry()
	r.Upsert(models.User{ID: "a", Name: "Ann", Online: true})
	r.Upsert(models.User{ID: "b", Name: "Ben", Online: false})
	r.Upsert(models.User{ID: "c", Name: "Cat", Online: true})

	online := r.ListOnline()
	require.Len(t, online, 2)
	assert.Equal(t, "Ann", online[0].Name)
	assert.Equal(t, "Cat", online[1].Name)

	assert.Len(t, r.List(), 3)
}
