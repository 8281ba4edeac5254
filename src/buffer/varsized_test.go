package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteVariableSizedAppendsToLastChild(t *testing.T) {
	m := testManager(t, 4)
	parent, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	a, err := parent.WriteVariableSized(m, []byte("hello"))
	require.NoError(t, err)
	b, err := parent.WriteVariableSized(m, []byte("world!"))
	require.NoError(t, err)

	// Both values fit one pooled child.
	assert.Equal(t, 1, parent.ChildCount())
	assert.Equal(t, a.ChildIndex, b.ChildIndex)
	assert.Equal(t, uint32(0), a.Offset)
	assert.Equal(t, uint32(4+5), b.Offset)

	got, err := parent.ReadVariableSized(a)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("hello"), got))
	got, err = parent.ReadVariableSized(b)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("world!"), got))

	parent.Release()
	assert.Equal(t, 4, m.AvailablePooled())
}

func TestWriteVariableSizedOverflowAllocatesNewChild(t *testing.T) {
	m := testManager(t, 4) // 64-byte buffers
	parent, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	first, err := parent.WriteVariableSized(m, make([]byte, 50))
	require.NoError(t, err)
	second, err := parent.WriteVariableSized(m, make([]byte, 50))
	require.NoError(t, err)

	assert.Equal(t, 2, parent.ChildCount())
	assert.NotEqual(t, first.ChildIndex, second.ChildIndex)
	assert.Equal(t, uint32(0), second.Offset)

	parent.Release()
}

func TestWriteVariableSizedOversizedGoesUnpooled(t *testing.T) {
	m := testManager(t, 2) // pool buffers are 64 bytes, unpooled cap 1024
	parent, ok := m.GetBufferNoBlocking()
	require.True(t, ok)

	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i)
	}
	access, err := parent.WriteVariableSized(m, payload)
	require.NoError(t, err)

	got, err := parent.ReadVariableSized(access)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, got))
	assert.Equal(t, int64(1), m.Metrics().UnpooledAcquired)

	parent.Release()
	assert.Equal(t, int64(0), m.Metrics().UnpooledInUse)
}
