//go:build test

package session

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/testutils"
)

func TestPostAcceptedRequestsRunBeforeShutdown(t *testing.T) {
	// GOAL: Verify a request that post accepted is never lost to a concurrent Close
	//
	// TEST SCENARIO: small inbox, four posters flooding it → Close → every nil post ran, every other post got ErrClosed

	for round := 0; round < 20; round++ {
		opts := DefaultOptions()
		opts.InboxSize = 4
		c, err := NewController(testutils.NewMockCentral().ExpectDefaults(), opts, testutils.NewSilentLogger())
		require.NoError(t, err)
		require.NoError(t, c.Start(context.Background()))

		var accepted, ran atomic.Int64
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					if err := c.post(func() { ran.Add(1) }); err != nil {
						assert.ErrorIs(t, err, ErrClosed)
						return
					}
					accepted.Add(1)
				}
			}()
		}

		for accepted.Load() < 100 {
			runtime.Gosched()
		}
		require.NoError(t, c.Close())
		wg.Wait()

		assert.Equal(t, accepted.Load(), ran.Load(), "round %d: every accepted request MUST run", round)
		assert.ErrorIs(t, c.post(func() {}), ErrClosed)
	}
}

func TestPostAfterCloseBeforeStart(t *testing.T) {
	c, err := NewController(testutils.NewMockCentral().ExpectDefaults(), DefaultOptions(), testutils.NewSilentLogger())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.post(func() {}), ErrClosed, "a closed controller MUST NOT accept requests")
}
