package friends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sfera/internal/models"
)

func pending(id, from, to string) models.FriendRequest {
	return models.FriendRequest{
		ID:         id,
		FromUserID: from,
		ToUserID:   to,
		Status:     models.FriendRequestPending,
	}
}

func TestLedger_OneActiveRequestPerPair(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))

	// Same pair, either direction, is rejected while r1 is active.
	err := l.Upsert(pending("r2", "u1", "u2"))
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
	err = l.Upsert(pending("r3", "u2", "u1"))
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)

	assert.True(t, l.HasActive("u2", "u1"))
}

func TestLedger_RejectedPairCanRetry(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))

	_, err := l.Respond("r1", false)
	require.NoError(t, err)
	assert.False(t, l.HasActive("u1", "u2"))

	require.NoError(t, l.Upsert(pending("r2", "u2", "u1")))
	assert.True(t, l.HasActive("u1", "u2"))
}

func TestLedger_AcceptedPairStaysActive(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))

	_, err := l.Respond("r1", true)
	require.NoError(t, err)

	err = l.Upsert(pending("r2", "u1", "u2"))
	assert.ErrorIs(t, err, models.ErrDuplicateRequest)
}

func TestLedger_StatusDowngradeRejected(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))
	_, err := l.Respond("r1", true)
	require.NoError(t, err)

	// accepted -> pending arriving from the wire must not apply.
	downgrade := pending("r1", "u1", "u2")
	err = l.Upsert(downgrade)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	req, ok := l.Get("r1")
	require.True(t, ok)
	assert.Equal(t, models.FriendRequestAccepted, req.Status)
}

func TestLedger_UpsertIsIdempotent(t *testing.T) {
	l := NewLedger()
	req := pending("r1", "u1", "u2")
	require.NoError(t, l.Upsert(req))
	require.NoError(t, l.Upsert(req))

	assert.Len(t, l.List(Filter{}), 1)
}

func TestLedger_TerminalStatesAreImmutable(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))
	_, err := l.Respond("r1", false)
	require.NoError(t, err)

	_, err = l.Respond("r1", true)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	rejected := pending("r1", "u1", "u2")
	rejected.Status = models.FriendRequestAccepted
	assert.ErrorIs(t, l.Upsert(rejected), models.ErrInvalidTransition)
}

func TestLedger_RespondUnknown(t *testing.T) {
	l := NewLedger()
	_, err := l.Respond("missing", true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedger_ListFilter(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Upsert(pending("r1", "u1", "u2")))
	require.NoError(t, l.Upsert(pending("r2", "u1", "u3")))
	require.NoError(t, l.Upsert(pending("r3", "u4", "u5")))
	_, err := l.Respond("r2", true)
	require.NoError(t, err)

	assert.Len(t, l.List(Filter{}), 3)
	assert.Len(t, l.List(Filter{Status: models.FriendRequestPending}), 2)
	assert.Len(t, l.List(Filter{UserID: "u1"}), 2)
	assert.Len(t, l.List(Filter{UserID: "u1", Status: models.FriendRequestAccepted}), 1)
	assert.Empty(t, l.List(Filter{UserID: "u2", Status: models.FriendRequestAccepted}))
}
