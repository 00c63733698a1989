package driven

import "context"

// FingerprintLocker serializes reconciliations that touch the same email or
// phone fingerprint. Lock blocks until every key is held or ctx is done, and
// returns ErrConflict when the wait exceeds the locker's timeout. The
// returned func releases all keys and is safe to call once.
type FingerprintLocker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}
