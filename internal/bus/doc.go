// Package bus provides the in-process message bus that connects agents.
//
// # Overview
//
// Each registered agent owns a mailbox: an unbounded FIFO queue of pending
// Messages. Senders enqueue onto a specific mailbox (targeted send) or onto
// every mailbox except their own (broadcast). Receivers dequeue with a
// bounded blocking wait.
//
// # Delivery semantics
//
//   - Messages sent to the same target are delivered in send order
//     (FIFO per mailbox). No ordering is guaranteed across mailboxes.
//   - A broadcast reaches every other registered agent exactly once, as a
//     logically independent copy, and is never delivered back to the sender.
//   - Send to an unregistered target fails with ErrUnknownAgent; the bus
//     itself is unaffected.
//   - Receive with an empty mailbox suspends the caller until a message
//     arrives or the timeout elapses. Timing out is not an error.
//
// # Concurrency
//
// The bus is safe for concurrent senders and receivers across goroutines.
// Mailboxes are independent: a slow or absent receiver on one mailbox never
// delays delivery into another. The bus is single-process and in-memory by
// design; it does not survive restarts and does not span processes.
package bus
