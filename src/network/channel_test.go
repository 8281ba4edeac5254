package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSendRecvOrdered(t *testing.T) {
	ch := NewChannel(Config{Credit: 4})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ch.SendData(ctx, DataFrame{NumberOfTuples: uint32(i)}))
	}

	for i := 0; i < 3; i++ {
		f, err := ch.Recv(ctx)
		require.NoError(t, err)
		require.NotNil(t, f.Data)
		assert.Equal(t, uint32(i), f.Data.NumberOfTuples)
	}
}

func TestChannelBlocksOnCreditExhaustion(t *testing.T) {
	ch := NewChannel(Config{Credit: 1})
	ctx := context.Background()
	require.NoError(t, ch.SendData(ctx, DataFrame{}))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err := ch.SendData(cctx, DataFrame{})
	assert.Error(t, err, "second send must block on the exhausted local credit buffer")
}

func TestEoSAcknowledgedAfterAllSendingThreads(t *testing.T) {
	ch := NewChannel(Config{Credit: 8})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ch.SendEvent(ctx, EventFrame{Kind: EventEoS, NumSendingThreads: 3}))
	}
	for i := 0; i < 3; i++ {
		_, err := ch.Recv(ctx)
		require.NoError(t, err)
	}
	assert.True(t, ch.AllEoSReceived(3))
}

func TestClosedChannelRejectsSend(t *testing.T) {
	ch := NewChannel(Config{Credit: 2})
	ch.Close()
	err := ch.SendData(context.Background(), DataFrame{})
	assert.ErrorIs(t, err, ErrChannelLost)
}
