package driven

import "context"

// Locker provides mutual exclusion keyed by an arbitrary string, such as
// "credential:<id>". Lock blocks until the lock is held or ctx is done.
// The returned function releases the lock and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
