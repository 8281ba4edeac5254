package pipeline

// Operator is the capability record every physical operator
// implements.
type Operator interface {
	Setup(ctx *ExecutionContext) error
	Open(ctx *ExecutionContext) error
	Execute(ctx *ExecutionContext, rec Record) error
	Close(ctx *ExecutionContext) error
	Terminate(ctx *ExecutionContext) error
	Children() []Operator
}

// Base provides the default no-op lifecycle and child-chain plumbing
// that every concrete operator embeds.
type Base struct {
	children []Operator
}

// AddChild appends a downstream operator.
func (b *Base) AddChild(child Operator) { b.children = append(b.children, child) }

// Children returns the operator's downstream chain.
func (b *Base) Children() []Operator { return b.children }

// ExecuteChild forwards rec to every child operator, short-circuiting
// on the first error.
func (b *Base) ExecuteChild(ctx *ExecutionContext, rec Record) error {
	for _, c := range b.children {
		if err := c.Execute(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Setup is a no-op default; operators with handler state override it.
func (b *Base) Setup(ctx *ExecutionContext) error { return nil }

// Open is a no-op default.
func (b *Base) Open(ctx *ExecutionContext) error { return nil }

// Close is a no-op default.
func (b *Base) Close(ctx *ExecutionContext) error { return nil }

// Terminate is a no-op default.
func (b *Base) Terminate(ctx *ExecutionContext) error { return nil }

// openTopDown calls Open on op, then recursively on each child, in
// preorder.
func openTopDown(op Operator, ctx *ExecutionContext) error {
	if err := op.Open(ctx); err != nil {
		return err
	}
	for _, c := range op.Children() {
		if err := openTopDown(c, ctx); err != nil {
			return err
		}
	}
	return nil
}

// closeBottomUp closes each child first, then op, in postorder
// postorder.
func closeBottomUp(op Operator, ctx *ExecutionContext) error {
	for _, c := range op.Children() {
		if err := closeBottomUp(c, ctx); err != nil {
			return err
		}
	}
	return op.Close(ctx)
}

// terminateAll calls Terminate on op and every descendant.
func terminateAll(op Operator, ctx *ExecutionContext) error {
	if err := op.Terminate(ctx); err != nil {
		return err
	}
	for _, c := range op.Children() {
		if err := terminateAll(c, ctx); err != nil {
			return err
		}
	}
	return nil
}

// setupAll calls Setup on op and every descendant.
func setupAll(op Operator, ctx *ExecutionContext) error {
	if err := op.Setup(ctx); err != nil {
		return err
	}
	for _, c := range op.Children() {
		if err := setupAll(c, ctx); err != nil {
			return err
		}
	}
	return nil
}
