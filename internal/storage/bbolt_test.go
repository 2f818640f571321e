package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfera/internal/models"
)

func newTestStorage(t *testing.T) *BboltStorage {
	t.Helper()
	s, err := NewBboltStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	pos := models.Position{1.5, 0, -3.25}
	require.NoError(t, s.UpsertUser(models.User{
		ID:             "u1",
		Name:           "Alice",
		Color:          "#abcdef",
		ProfilePicture: "alice.png",
		Position:       &pos,
	}, 1234))
	require.NoError(t, s.UpsertUser(models.User{ID: "u2", Name: "Bob"}, 5678))

	users, lastSeen, err := s.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 2)

	byID := map[string]models.User{}
	for _, u := range users {
		byID[u.ID] = u
	}
	assert.Equal(t, "Alice", byID["u1"].Name)
	assert.Equal(t, "#abcdef", byID["u1"].Color)
	require.NotNil(t, byID["u1"].Position)
	assert.Equal(t, pos, *byID["u1"].Position)
	assert.Nil(t, byID["u2"].Position)
	assert.Equal(t, int64(1234), lastSeen["u1"])
	assert.Equal(t, int64(5678), lastSeen["u2"])
}

func TestUserUpsertOverwrites(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.UpsertUser(models.User{ID: "u1", Name: "Alice"}, 1))
	require.NoError(t, s.UpsertUser(models.User{ID: "u1", Name: "Alicia"}, 2))

	users, lastSeen, err := s.ListUsers()
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Alicia", users[0].Name)
	assert.Equal(t, int64(2), lastSeen["u1"])
}

func TestDeleteUser(t *testing.T) {
	s := newTestStorage(t)

	require.NoError(t, s.UpsertUser(models.User{ID: "u1", Name: "Alice"}, 1))
	require.NoError(t, s.DeleteUser("u1"))
	require.NoError(t, s.DeleteUser("missing"))

	users, _, err := s.ListUsers()
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFriendRequestRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	req := models.FriendRequest{
		ID:         "r1",
		FromUserID: "u1",
		ToUserID:   "u2",
		Status:     models.FriendRequestPending,
	}
	require.NoError(t, s.UpsertFriendRequest(req))

	req.Status = models.FriendRequestAccepted
	require.NoError(t, s.UpsertFriendRequest(req))

	requests, err := s.ListFriendRequests()
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, req, requests[0])
}

func TestPushSubscriptionRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	sub := DBPushSubscription{
		UserID:   "u1",
		Endpoint: "https://push.example.com/send/abc",
		P256dh:   "key",
		Auth:     "auth",
	}
	require.NoError(t, s.UpsertPushSubscription(sub))

	subs, err := s.ListPushSubscriptions()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub, subs[0])

	require.NoError(t, s.DeletePushSubscription("u1"))
	subs, err = s.ListPushSubscriptions()
	require.NoError(t, err)
	assert.Empty(t, subs)
}
