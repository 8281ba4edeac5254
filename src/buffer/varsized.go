package buffer

import (
	"encoding/binary"
	"fmt"
)

// WriteVariableSized appends data to the tail of the parent's last
// child buffer, prefixed by a 32-bit length. If no child exists or the
// last child lacks space, a new child is allocated: pooled when the
// payload fits the pool's uniform size, otherwise unpooled. Returns
// the access handle locating the written value.
//
// The caller must be the single thread currently mutating the parent.
func (b *TupleBuffer) WriteVariableSized(m *Manager, data []byte) (VariableSizedAccess, error) {
	need := uint32(4 + len(data))

	child, idx := b.lastChild()
	if child == nil || child.BufferSize()-child.UsedMemorySize() < need {
		var err error
		child, err = m.childFor(need)
		if err != nil {
			return VariableSizedAccess{}, err
		}
		idx = b.StoreChildBuffer(child)
	}

	offset := child.UsedMemorySize()
	mem := child.MemArea()
	binary.LittleEndian.PutUint32(mem[offset:], uint32(len(data)))
	copy(mem[offset+4:], data)
	child.SetUsedMemorySize(offset + need)

	return VariableSizedAccess{ChildIndex: idx, Offset: offset}, nil
}

// ReadVariableSized returns the length-prefixed bytes at access. The
// returned slice aliases the child buffer's memory; callers must not
// hold it past the parent's release.
func (b *TupleBuffer) ReadVariableSized(access VariableSizedAccess) ([]byte, error) {
	if access.ChildIndex < 0 || access.ChildIndex >= len(b.children) {
		return nil, fmt.Errorf("buffer: child index %d out of range [0,%d)", access.ChildIndex, len(b.children))
	}
	child := b.children[access.ChildIndex]
	if access.Offset+4 > child.BufferSize() {
		return nil, fmt.Errorf("buffer: variable-sized offset %d out of range", access.Offset)
	}
	mem := child.MemArea()
	size := binary.LittleEndian.Uint32(mem[access.Offset:])
	end := access.Offset + 4 + size
	if end > child.BufferSize() {
		return nil, fmt.Errorf("buffer: variable-sized value at %d overruns child buffer", access.Offset)
	}
	return mem[access.Offset+4 : end], nil
}

func (b *TupleBuffer) lastChild() (*TupleBuffer, int) {
	if len(b.children) == 0 {
		return nil, -1
	}
	return b.children[len(b.children)-1], len(b.children) - 1
}

// childFor allocates a buffer for a variable-sized payload of the
// given size: pooled when it fits the uniform pool size, otherwise
// from the unpooled allocator.
func (m *Manager) childFor(size uint32) (*TupleBuffer, error) {
	if size <= m.cfg.BufferSize {
		if child, ok := m.GetBufferNoBlocking(); ok {
			return child, nil
		}
	}
	return m.GetUnpooledBuffer(size)
}
