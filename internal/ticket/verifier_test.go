package ticket

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerome244/code-graph-explorer/internal/domain"
)

const testSecret = "test-ticket-secret"

func TestVerifier_ValidTicket(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign(testSecret, 42, "project:7", clock.Now())
	require.NoError(t, err)

	uid, err := v.Verify(raw, "project:7")
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestVerifier_Expired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign(testSecret, 42, "project:7", clock.Now())
	require.NoError(t, err)

	clock.Advance(61 * time.Second)

	_, err = v.Verify(raw, "project:7")
	assert.ErrorIs(t, err, domain.ErrTicketExpired)
}

func TestVerifier_JustWithinMaxAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign(testSecret, 42, "project:7", clock.Now())
	require.NoError(t, err)

	clock.Advance(59 * time.Second)

	uid, err := v.Verify(raw, "project:7")
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestVerifier_WrongSecret(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign("other-secret", 42, "project:7", clock.Now())
	require.NoError(t, err)

	_, err = v.Verify(raw, "project:7")
	assert.ErrorIs(t, err, domain.ErrTicketInvalid)
}

func TestVerifier_RoomMismatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign(testSecret, 42, "project:7", clock.Now())
	require.NoError(t, err)

	_, err = v.Verify(raw, "project:8")
	assert.ErrorIs(t, err, domain.ErrTicketRoomMismatch)
}

func TestVerifier_Garbage(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		_, err := v.Verify(raw, "project:7")
		assert.ErrorIs(t, err, domain.ErrTicketInvalid, "raw=%q", raw)
	}
}

func TestVerifier_MissingUserID(t *testing.T) {
	clock := clockwork.NewFakeClock()
	v := NewVerifier(testSecret, time.Minute, clock)

	raw, err := Sign(testSecret, 0, "project:7", clock.Now())
	require.NoError(t, err)

	_, err = v.Verify(raw, "project:7")
	assert.ErrorIs(t, err, domain.ErrTicketInvalid)
}
