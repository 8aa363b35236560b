// Package marks owns package claims and status marks.
//
// Every mutating operation runs under one fence mutex, so a read of the
// store and the write that depends on it can never interleave with another
// operation. Notifications are enqueued into the outbox while the fence is
// held; enqueueing never waits for delivery.
//
// Triggers attached to a mark definition fire once per originating
// SetMark/ClearMark call. They bypass permission checks, never cascade, and
// a failing trigger does not undo the primary change.
package marks
