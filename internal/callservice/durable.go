package callservice

import "context"

// DurableStore persists terminal call rows exactly once, per spec.md §4.2.
type DurableStore interface {
	WriteTerminalCall(ctx context.Context, call *Call) error
}
