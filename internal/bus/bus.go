// ABOUTME: In-process message bus with per-agent FIFO mailboxes.
// ABOUTME: Delivers targeted or broadcast messages; no knowledge of agent behavior.

package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrUnknownAgent indicates the named agent has no mailbox on the bus.
var ErrUnknownAgent = errors.New("unknown agent")

// mailbox is an unbounded FIFO queue with a wake signal for blocked receivers.
type mailbox struct {
	mu    sync.Mutex
	queue []*Message
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (mb *mailbox) push(m *Message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, m)
	mb.mu.Unlock()

	// Non-blocking signal; a single buffered token is enough to wake the
	// receiver, which drains the queue in a loop.
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

func (mb *mailbox) pop() (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if len(mb.queue) == 0 {
		return nil, false
	}
	m := mb.queue[0]
	mb.queue = mb.queue[1:]
	return m, true
}

func (mb *mailbox) pending() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// MessageBus routes messages between agents via per-agent mailboxes.
// Safe for concurrent senders and receivers; delivery into one mailbox never
// blocks delivery into another.
type MessageBus struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox
	logger    *slog.Logger
}

// New creates an empty message bus.
func New(logger *slog.Logger) *MessageBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageBus{
		mailboxes: make(map[string]*mailbox),
		logger:    logger.With("component", "bus"),
	}
}

// RegisterAgent creates a mailbox for the named agent. Idempotent: a second
// registration keeps the existing mailbox and any queued messages.
func (b *MessageBus) RegisterAgent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[name]; exists {
		return
	}
	b.mailboxes[name] = newMailbox()
	b.logger.Debug("mailbox registered", "agent", name)
}

// UnregisterAgent removes the agent's mailbox. Messages still queued for the
// agent are discarded. No-op if the agent was never registered.
func (b *MessageBus) UnregisterAgent(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.mailboxes[name]; !exists {
		return
	}
	delete(b.mailboxes, name)
	b.logger.Debug("mailbox unregistered", "agent", name)
}

// Send delivers a message. A targeted message (To set) is enqueued onto that
// agent's mailbox and fails with ErrUnknownAgent if no such mailbox exists.
// A broadcast (To empty) enqueues an independent copy onto every registered
// mailbox except the sender's; broadcasting to an empty bus is a no-op.
func (b *MessageBus) Send(msg *Message) error {
	if msg.To != "" {
		b.mu.RLock()
		mb, ok := b.mailboxes[msg.To]
		b.mu.RUnlock()
		if !ok {
			return fmt.Errorf("send to %q: %w", msg.To, ErrUnknownAgent)
		}
		mb.push(msg)
		return nil
	}

	b.mu.RLock()
	targets := make([]*mailbox, 0, len(b.mailboxes))
	for name, mb := range b.mailboxes {
		if name == msg.From {
			continue
		}
		targets = append(targets, mb)
	}
	b.mu.RUnlock()

	for _, mb := range targets {
		mb.push(msg.clone())
	}
	return nil
}

// Receive dequeues the oldest pending message for the named agent. If the
// mailbox is empty it blocks until a message arrives, the timeout elapses, or
// ctx is cancelled. A timeout is not an error: the return is (nil, nil).
// Fails with ErrUnknownAgent if the agent has no mailbox.
func (b *MessageBus) Receive(ctx context.Context, name string, timeout time.Duration) (*Message, error) {
	b.mu.RLock()
	mb, ok := b.mailboxes[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("receive for %q: %w", name, ErrUnknownAgent)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msg, ok := mb.pop(); ok {
			return msg, nil
		}
		select {
		case <-mb.wake:
			// Something arrived (or did and was already consumed); retry.
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// HasPending reports whether the named agent has any queued message.
// Returns false for unknown agents.
func (b *MessageBus) HasPending(name string) bool {
	b.mu.RLock()
	mb, ok := b.mailboxes[name]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	return mb.pending() > 0
}
