package buffer

import "fmt"

// ErrCannotAllocateBuffer is returned when the unpooled allocator
// refuses a request because it would exceed its configured ceiling
// would exceed its configured ceiling.
type ErrCannotAllocateBuffer struct {
	Requested uint32
	InUse     int64
	Max       int64
}

func (e *ErrCannotAllocateBuffer) Error() string {
	return fmt.Sprintf("buffer: cannot allocate %d unpooled bytes (in use %d, max %d)", e.Requested, e.InUse, e.Max)
}
