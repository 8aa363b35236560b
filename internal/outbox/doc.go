// Package outbox delivers outbound chat messages in order.
//
// Messages go into a single Queue. The Dispatcher drains non-throttled
// entries one at a time, spacing sends, backing off when the platform rate
// limits, and retrying once with reduced options. Throttled entries stay
// invisible to the Dispatcher until the Merger flushes a chat's backlog:
// once the oldest throttled entry of a chat is older than Hold, every
// throttled entry of that chat is merged (where options match and the
// length ceiling allows) and moved to the tail as deliverable.
//
// Outbox ties the three together under a supervisor.
package outbox
