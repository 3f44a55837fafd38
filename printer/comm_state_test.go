package printer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommStateMgr_Transitions(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &stateRecorder{}
	cs := NewCommStateMgr(ctx, nil, rec.handle)
	require.Equal(Disconnected, cs.State())

	require.ErrorIs(cs.ToPrinting(), ErrInvalidTransition)
	require.ErrorIs(cs.ToPaused(), ErrInvalidTransition)

	require.NoError(cs.ToConnected())
	require.NoError(cs.ToConnected())
	require.NoError(cs.ToPrinting())
	require.NoError(cs.ToPaused())
	require.ErrorIs(cs.ToFinishedPrint(), ErrInvalidTransition)
	require.NoError(cs.ToPrinting())
	require.NoError(cs.ToFinishedPrint())
	require.NoError(cs.ToPrinting())
	require.NoError(cs.ToConnected())
	cs.ToDisconnected()
	cs.ToDisconnected()

	require.Equal([]CommState{Connected, Printing, Paused, Printing, FinishedPrint, Printing, Connected, Disconnected}, rec.all())
}

func TestCommStateMgr_WaitState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs := NewCommStateMgr(ctx, nil)

	t.Run("reached", func(t *testing.T) {
		go func() {
			time.Sleep(10 * time.Millisecond)
			_ = cs.ToConnected()
		}()

		waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
		defer waitCancel()
		assert.NoError(t, cs.WaitState(waitCtx, Connected))
	})

	t.Run("timeout", func(t *testing.T) {
		waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer waitCancel()
		assert.ErrorIs(t, cs.WaitState(waitCtx, Paused), context.DeadlineExceeded)
	})
}

func TestCommStateMgr_Async(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cs := NewCommStateMgr(ctx, nil)
	require.NoError(t, cs.ToConnected())

	cs.ToDisconnectedAsync()

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, cs.WaitState(waitCtx, Disconnected))
}

func TestCommState_String(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("disconnected", Disconnected.String())
	assert.Equal("finished-print", FinishedPrint.String())
	assert.Equal("unknown", CommState(42).String())
	assert.True(Paused.IsConnected())
	assert.False(Disconnected.IsConnected())

	text, err := Printing.MarshalText()
	assert.NoError(err)
	assert.Equal("printing", string(text))
}
