package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfera/internal/dispatch"
	"sfera/internal/friends"
	"sfera/internal/hub"
	"sfera/internal/models"
	"sfera/internal/protocol"
	"sfera/internal/session"
	"sfera/internal/ws"
)

func startRelay(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h, err := hub.NewHub(ctx, hub.DefaultConfig(), nil, nil, zerolog.Nop())
	require.NoError(t, err)

	wsServer := ws.NewServer(h, nil, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleConnections)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?userId="
}

func startClient(t *testing.T, baseURL string, identity models.User) *dispatch.Coordinator {
	t.Helper()

	var coord *dispatch.Coordinator
	mgr := session.NewManager(session.Config{
		URL:      baseURL + identity.ID,
		Identity: identity,
		Backoff:  session.Backoff{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond, MaxAttempts: 5},
		Logger:   zerolog.Nop(),
	}, session.HandlerFunc(func(env protocol.Envelope) {
		coord.HandleEnvelope(env)
	}))
	coord = dispatch.New(identity, mgr, zerolog.Nop())

	coord.GoOnline(context.Background())
	t.Cleanup(coord.GoOffline)
	return coord
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestIntegration_PresenceAndMessaging(t *testing.T) {
	url := startRelay(t)

	alice := startClient(t, url, models.User{ID: "alice", Name: "Alice", Color: "#f00"})
	bob := startClient(t, url, models.User{ID: "bob", Name: "Bob", Color: "#00f"})

	eventually(t, func() bool {
		u, ok := alice.GetUser("bob")
		return ok && u.Online
	}, "alice never saw bob come online")
	eventually(t, func() bool {
		u, ok := bob.GetUser("alice")
		return ok && u.Online
	}, "bob never saw alice in his snapshot")

	sent, err := alice.SendMessage("bob", "hello bob")
	require.NoError(t, err)

	eventually(t, func() bool {
		return len(bob.ListMessages("alice")) == 1
	}, "bob never received the message")
	assert.Equal(t, "hello bob", bob.ListMessages("alice")[0].Content)
	assert.Equal(t, sent.ID, bob.ListMessages("alice")[0].ID)

	// Alice's echo is absorbed by the optimistic local copy.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, alice.ListMessages("bob"), 1)
}

func TestIntegration_FriendRequestLifecycle(t *testing.T) {
	url := startRelay(t)

	alice := startClient(t, url, models.User{ID: "alice", Name: "Alice"})
	bob := startClient(t, url, models.User{ID: "bob", Name: "Bob"})

	eventually(t, func() bool {
		_, ok := alice.GetUser("bob")
		return ok
	}, "alice never saw bob")

	req, err := alice.SendFriendRequest("bob")
	require.NoError(t, err)

	eventually(t, func() bool {
		return len(bob.ListFriendRequests(friends.Filter{Status: models.FriendRequestPending})) == 1
	}, "bob never received the friend request")

	pending := bob.ListFriendRequests(friends.Filter{Status: models.FriendRequestPending})[0]
	assert.Equal(t, req.ID, pending.ID)
	assert.Equal(t, "alice", pending.FromUserID)

	require.NoError(t, bob.RespondToFriendRequest(pending.ID, true))

	eventually(t, func() bool {
		reqs := alice.ListFriendRequests(friends.Filter{Status: models.FriendRequestAccepted})
		return len(reqs) == 1 && reqs[0].ID == req.ID
	}, "alice never saw the request accepted")

	// The pair is now linked; a second request is refused locally.
	_, err = alice.SendFriendRequest("bob")
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
}

func TestIntegration_PositionUpdates(t *testing.T) {
	url := startRelay(t)

	alice := startClient(t, url, models.User{ID: "alice", Name: "Alice"})
	bob := startClient(t, url, models.User{ID: "bob", Name: "Bob"})

	eventually(t, func() bool {
		_, ok := bob.GetUser("alice")
		return ok
	}, "bob never saw alice")

	alice.UpdatePosition(models.Position{10, 0, -4})

	eventually(t, func() bool {
		u, ok := bob.GetUser("alice")
		return ok && u.Position != nil && *u.Position == (models.Position{10, 0, -4})
	}, "bob never saw alice move")
}

func TestIntegration_DisconnectAndCatchUp(t *testing.T) {
	url := startRelay(t)

	alice := startClient(t, url, models.User{ID: "alice", Name: "Alice"})
	bob := startClient(t, url, models.User{ID: "bob", Name: "Bob"})

	eventually(t, func() bool {
		u, ok := alice.GetUser("bob")
		return ok && u.Online
	}, "alice never saw bob")

	bob.GoOffline()

	eventually(t, func() bool {
		u, ok := alice.GetUser("bob")
		return ok && !u.Online
	}, "alice never saw bob go offline")

	// Sent while bob is away; the snapshot on his next connect carries it.
	_, err := alice.SendMessage("bob", "missed you")
	require.NoError(t, err)

	bob.GoOnline(context.Background())

	eventually(t, func() bool {
		msgs := bob.ListMessages("alice")
		return len(msgs) == 1 && msgs[0].Content == "missed you"
	}, "bob never caught up on the missed message")
}
