package jsontype

// Context tracks one position in the document graph during a sync call.
//
// A fresh root context is created per Sync/BulkSync call; one child context
// is created per recursively resolved reference. Contexts are ephemeral and
// never persisted. Compute functions receive the context so they can reach
// parent documents and the root payload.
type Context struct {
	parent *Context

	// Type is the type definition being synced at this position.
	Type *Type

	// Data is the current document; nil for a batch context until the batch
	// loop assigns each element in turn.
	Data Document

	// Seq is the batch payload for bulk syncs; nil for single syncs.
	Seq []Document

	// Index is the position within Seq, or -1 outside a batch loop.
	Index int

	// Partial marks missing document fields as "not specified" rather than
	// "explicitly null". Inherited from the root call by every child.
	Partial bool

	// Parents holds the parent chain's documents, nearest first.
	Parents []Document

	// ParentContexts holds the parent chain itself, nearest first.
	ParentContexts []*Context

	// Root is the top-level document (nil when the root call was a batch).
	Root Document

	// RootContext is the top of the chain; a root context points to itself.
	RootContext *Context
}

func newContext(parent *Context, t *Type, data Document, seq []Document, partial bool) *Context {
	c := &Context{
		parent:  parent,
		Type:    t,
		Data:    data,
		Seq:     seq,
		Partial: partial,
		Index:   -1,
	}
	if parent != nil {
		c.Parents = append([]Document{parent.Data}, parent.Parents...)
		c.ParentContexts = append([]*Context{parent}, parent.ParentContexts...)
		c.Root = parent.Root
		c.RootContext = parent.RootContext
	} else {
		c.Root = data
		c.RootContext = c
	}
	return c
}

// Parent returns the parent context, or nil at the root.
func (c *Context) Parent() *Context { return c.parent }
