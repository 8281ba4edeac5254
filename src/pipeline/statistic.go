package pipeline

import (
	"fmt"

	"github.com/nebulastream/runtime/src/handler"
)

// CountMinCollect feeds each record's key field into a count-min
// sketch handler and passes the record through unchanged. Attached via
// the handler registry as ambient statistics collection alongside the
// core operator catalog.
type CountMinCollect struct {
	Base
	HandlerIndex int
	KeyField     string
}

func (c *CountMinCollect) Execute(ctx *ExecutionContext, rec Record) error {
	h, err := ctx.GetGlobalOperatorHandler(c.HandlerIndex)
	if err != nil {
		return err
	}
	cm, ok := h.(*handler.CountMinHandler)
	if !ok {
		return fmt.Errorf("pipeline: handler index %d is %T, not a count-min handler", c.HandlerIndex, h)
	}
	cm.Add(fmt.Sprint(rec[c.KeyField]), 1)
	return c.ExecuteChild(ctx, rec)
}
