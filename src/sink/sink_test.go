package sink

import (
	"context"
	"testing"

	"github.com/nebulastream/runtime/src/buffer"
	"github.com/nebulastream/runtime/src/handler"
	"github.com/nebulastream/runtime/src/network"
	"github.com/nebulastream/runtime/src/pipeline"
	"github.com/nebulastream/runtime/src/termination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySinkDecodesRecords(t *testing.T) {
	schema, err := buffer.NewSchema([]buffer.Field{
		{Name: "k", Type: buffer.Uint32},
		{Name: "v", Type: buffer.Uint32},
	})
	require.NoError(t, err)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 256)
	mgr := buffer.NewManager(buffer.Config{BufferSize: 256, NumberOfBuffersInGlobalPool: 2}, nil)

	b, err := mgr.GetBufferBlocking(context.Background())
	require.NoError(t, err)
	for row := 0; row < 3; row++ {
		require.NoError(t, pipeline.EncodeRecord(b, schema, layout, row, pipeline.Record{
			"k": uint32(row), "v": uint32(row * 10),
		}))
	}
	b.SetNumberOfTuples(3)

	s := NewMemory(schema, layout)
	require.NoError(t, s.Write(context.Background(), b))
	b.Release()

	recs := s.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, uint32(20), recs[2]["v"])
	assert.Equal(t, 1, s.BufferCount())
}

// TestNetworkSinkRoundTrip sends a DataFrame with 100 rows of
// (uint32,uint32) through a channel; the decoded frame must yield
// identical content and metadata on the receive side.
func TestNetworkSinkRoundTrip(t *testing.T) {
	schema, err := buffer.NewSchema([]buffer.Field{
		{Name: "a", Type: buffer.Uint32},
		{Name: "b", Type: buffer.Uint32},
	})
	require.NoError(t, err)
	layout := buffer.NewMemoryLayout(schema, buffer.RowMajor, 1024)
	mgr := buffer.NewManager(buffer.Config{BufferSize: 1024, NumberOfBuffersInGlobalPool: 2}, nil)

	b, err := mgr.GetBufferBlocking(context.Background())
	require.NoError(t, err)
	for row := 0; row < 100; row++ {
		require.NoError(t, pipeline.EncodeRecord(b, schema, layout, row, pipeline.Record{
			"a": uint32(row), "b": uint32(row * 2),
		}))
	}
	b.SetNumberOfTuples(100)
	b.SetUsedMemorySize(uint32(100 * schema.RecordSize()))
	b.OriginID = 7
	b.WatermarkTs = 1000
	b.SequenceNumber = 5
	b.ChunkNumber = 1
	b.LastChunk = true

	ch := network.NewChannel(network.Config{Credit: 4})
	reg := handler.NewRegistry()
	idx := reg.Register(handler.NewNetworkSinkHandler(ch))
	ns := NewNetwork(reg, idx)
	require.NoError(t, ns.Write(context.Background(), b))

	frame, err := ch.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, network.MessageData, frame.Type)
	df := frame.Data
	assert.Equal(t, uint32(100), df.NumberOfTuples)
	assert.Equal(t, uint64(7), df.OriginID)
	assert.Equal(t, uint64(1000), df.WatermarkTs)
	assert.Equal(t, uint64(5), df.SequenceNumberLog)
	assert.True(t, df.LastChunk)

	// Rehydrate into a fresh buffer and compare record content.
	out, err := mgr.GetBufferBlocking(context.Background())
	require.NoError(t, err)
	copy(out.MemArea(), df.Payload)
	out.SetNumberOfTuples(df.NumberOfTuples)
	recs := pipeline.DecodeRecords(out, schema, layout)
	require.Len(t, recs, 100)
	assert.Equal(t, uint32(42), recs[42]["a"])
	assert.Equal(t, uint32(84), recs[42]["b"])

	out.Release()
	b.Release()
}

// TestNetworkSinkEoSPiggybacksPendingEvents: reconfiguration events
// staged on the sink handler ride on the final EoS frame.
func TestNetworkSinkEoSPiggybacksPendingEvents(t *testing.T) {
	ch := network.NewChannel(network.Config{Credit: 4})
	sh := handler.NewNetworkSinkHandler(ch)
	reg := handler.NewRegistry()
	idx := reg.Register(sh)
	ns := NewNetwork(reg, idx)

	sh.QueueReconfigurationEvent(network.ReconfigurationEvent{
		MetadataType:               network.MetadataDrain,
		WorkerID:                   3,
		SharedQueryID:              9,
		DecomposedQueryID:          1,
		DecomposedQueryPlanVersion: 2,
	})
	require.NoError(t, ns.SendEndOfStream(context.Background(), termination.Graceful, 1))

	frame, err := ch.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, network.MessageEvent, frame.Type)
	ev := frame.Event
	assert.Equal(t, network.EventEoS, ev.Kind)
	assert.Equal(t, termination.Graceful, ev.TerminationType)
	require.Len(t, ev.ReconfigurationEvents, 1)
	assert.Equal(t, uint64(9), ev.ReconfigurationEvents[0].SharedQueryID)

	// The staged queue is drained by the send.
	assert.Len(t, sh.DrainPendingEvents(), 0)
}
