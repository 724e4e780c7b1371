package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/device"
)

func TestSessionErrorMatching(t *testing.T) {
	err := newError(ConnectFailed, "AA:01", fmt.Errorf("%w: no response", device.ErrTimeout))
	wrapped := fmt.Errorf("connect: %w", err)

	assert.ErrorIs(t, wrapped, ErrConnectFailed, "MUST match by kind through wrapping")
	assert.NotErrorIs(t, wrapped, ErrDiscoveryFailed)
	assert.ErrorIs(t, wrapped, device.ErrTimeout, "MUST unwrap to the platform cause")
	assert.Equal(t, ConnectFailed, KindOf(wrapped))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, "connect_failed [AA:01]: timeout: no response", err.Error())
	assert.Equal(t, "already_connecting", ErrAlreadyConnecting.Error())
}

func TestDecode(t *testing.T) {
	text, err := decode([]byte("up"))
	require.NoError(t, err)
	assert.Equal(t, "up", text)

	_, err = decode(nil)
	assert.ErrorIs(t, err, ErrDecode)
	assert.ErrorIs(t, err, errEmptyPayload)

	_, err = decode([]byte{0xff})
	assert.ErrorIs(t, err, errInvalidUTF8)
}

func TestOptionsDefaults(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, "Qualia", opts.NamePrefix)
	assert.Equal(t, PolicyReplace, opts.ConnectPolicy)
	assert.Equal(t, 30*time.Second, opts.ConnectTimeout)
	assert.Equal(t, 64, opts.EventBuffer)
	assert.EqualValues(t, 256, opts.JournalSize)

	custom := Options{NamePrefix: "Lock", ConnectPolicy: PolicyReject}
	require.NoError(t, custom.applyDefaults())
	assert.Equal(t, "Lock", custom.NamePrefix, "explicit values MUST be kept")
	assert.Equal(t, PolicyReject, custom.ConnectPolicy)

	bad := Options{ConnectTimeout: -time.Second}
	assert.Error(t, bad.applyDefaults())
}

func TestJournalOverwritesOldest(t *testing.T) {
	j := NewJournal(4)
	for i := 0; i < 20; i++ {
		j.Record(Transition{Attempt: uint64(i), From: Idle, To: Connecting})
	}

	got := j.Drain()
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 4, "journal MUST stay bounded")
	assert.EqualValues(t, 19, got[len(got)-1].Attempt, "MUST keep the newest entry")
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].Attempt, got[i].Attempt, "MUST keep entries in order")
	}
	assert.EqualValues(t, 20, j.Recorded())
	assert.Positive(t, j.Overwritten())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "subscribing", SubscribingNotifications.String())
	assert.Equal(t, "superseded", ReasonSuperseded.String())
	assert.Equal(t, "data", EventData.String())

	b, err := Ready.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(b))
	assert.True(t, Connecting.inTransition())
	assert.False(t, Ready.inTransition())
}
