// Package delivery serializes outbound WhatsApp sends through a single
// consumer with fixed-delay retries.
package delivery

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
)

// ErrQueueClosed is returned by Enqueue once Run has returned.
var ErrQueueClosed = errors.New("delivery queue closed")

var tracer = otel.Tracer("github.com/nextlevelbuilder/salesclaw/internal/delivery")

// Gateway sends one text message and returns the channel delivery id.
type Gateway interface {
	SendText(ctx context.Context, from whatsapp.Sender, to, body string) (string, error)
}

// Task is one queued outbound message.
type Task struct {
	MessageID string // persisted outbound record; empty skips status updates
	AgentID   string
	Sender    whatsapp.Sender
	To        string
	Body      string
	Attempts  int
}

// Options tunes the queue.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	Now        func() time.Time
}

// Queue is a min-heap of pending sends drained by one consumer.
// A failing task is rescheduled behind RetryDelay instead of blocking the head.
// Tasks for other destinations keep flowing meanwhile; newer tasks for the
// same destination are parked until the retried one is sent or dropped, so a
// contact never sees replies out of order.
type Queue struct {
	gw       Gateway
	messages store.MessageStore
	events   bus.EventPublisher

	maxRetries int
	retryDelay time.Duration
	now        func() time.Time

	mu       sync.Mutex
	items    taskHeap
	seq      uint64
	closed   bool
	wake     chan struct{}
	retrying map[string]bool    // destinations with a task waiting to retry
	parked   map[string][]*item // newer tasks held behind that retry, in seq order
}

// New creates a queue. messages and events may be nil.
func New(gw Gateway, messages store.MessageStore, events bus.EventPublisher, opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Queue{
		gw:         gw,
		messages:   messages,
		events:     events,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		now:        opts.Now,
		wake:       make(chan struct{}, 1),
		retrying:   make(map[string]bool),
		parked:     make(map[string][]*item),
	}
}

func destination(t Task) string { return t.AgentID + "\x00" + t.To }

// Enqueue adds a task to be sent as soon as the consumer reaches it.
func (q *Queue) Enqueue(t Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.seq++
	q.push(&item{task: t, due: q.now(), seq: q.seq})
	q.mu.Unlock()

	q.publish(t, protocol.DeliveryQueued, "", "")
	return nil
}

// Len returns the number of pending tasks, including ones waiting to retry.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending()
}

// pending must be called with q.mu held.
func (q *Queue) pending() int {
	n := q.items.Len()
	for _, p := range q.parked {
		n += len(p)
	}
	return n
}

// push must be called with q.mu held.
func (q *Queue) push(it *item) {
	heap.Push(&q.items, it)
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Pending tasks are dropped on exit.
func (q *Queue) Run(ctx context.Context) error {
	slog.Info("delivery: queue consumer started", "max_retries", q.maxRetries, "retry_delay", q.retryDelay)
	defer func() {
		q.mu.Lock()
		q.closed = true
		pending := q.pending()
		q.mu.Unlock()
		slog.Info("delivery: queue consumer stopped", "pending", pending)
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		it, wait, ok := q.next()
		if ok {
			q.process(ctx, it)
			continue
		}

		var timerC <-chan time.Time
		if wait > 0 {
			timer.Reset(wait)
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-timerC:
		}
		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// next pops the head if it is due. Otherwise it reports how long until the
// head is due (0 when the queue is empty). Fresh tasks whose destination has
// a retry outstanding are parked on the way.
func (q *Queue) next() (*item, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() > 0 {
		head := q.items[0]
		if dest := destination(head.task); !head.retry && q.retrying[dest] {
			heap.Pop(&q.items)
			q.parked[dest] = append(q.parked[dest], head)
			continue
		}
		if wait := head.due.Sub(q.now()); wait > 0 {
			return nil, wait, false
		}
		heap.Pop(&q.items)
		return head, 0, true
	}
	return nil, 0, false
}

// settle ends a destination's retry and returns its parked tasks to the heap
// with their original due time and sequence.
func (q *Queue) settle(dest string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.retrying[dest] {
		return
	}
	delete(q.retrying, dest)
	for _, it := range q.parked[dest] {
		q.push(it)
	}
	delete(q.parked, dest)
}

func (q *Queue) process(ctx context.Context, it *item) {
	t := it.task
	ctx, span := tracer.Start(ctx, "delivery.send")
	defer span.End()

	t.Attempts++
	span.SetAttributes(
		attribute.String("delivery.agent_id", t.AgentID),
		attribute.Int("delivery.attempt", t.Attempts),
	)

	deliveryID, err := q.gw.SendText(ctx, t.Sender, t.To, t.Body)
	if err == nil {
		q.setStatus(ctx, t, store.MessageSent, deliveryID)
		q.publish(t, protocol.DeliverySent, deliveryID, "")
		slog.Debug("delivery: sent", "agent_id", t.AgentID, "to", t.To, "delivery_id", deliveryID, "attempts", t.Attempts)
		q.settle(destination(t))
		return
	}

	span.RecordError(err)
	if t.Attempts >= q.maxRetries {
		span.SetStatus(codes.Error, "retries exhausted")
		slog.Error("delivery: dropping message after retries", "agent_id", t.AgentID, "to", t.To,
			"message_id", t.MessageID, "attempts", t.Attempts, "error", err)
		q.setStatus(ctx, t, store.MessageFailed, "")
		q.publish(t, protocol.DeliveryFailed, "", err.Error())
		q.settle(destination(t))
		return
	}

	slog.Warn("delivery: send failed, will retry", "agent_id", t.AgentID, "to", t.To,
		"attempt", t.Attempts, "transient", whatsapp.IsTransient(err), "error", err)
	q.mu.Lock()
	q.retrying[destination(t)] = true
	q.push(&item{task: t, due: q.now().Add(q.retryDelay), seq: it.seq, retry: true})
	q.mu.Unlock()
}

func (q *Queue) setStatus(ctx context.Context, t Task, status, externalID string) {
	if q.messages == nil || t.MessageID == "" {
		return
	}
	if err := q.messages.UpdateMessageStatus(ctx, t.MessageID, status, externalID); err != nil {
		slog.Warn("delivery: update message status", "message_id", t.MessageID, "status", status, "error", err)
	}
}

func (q *Queue) publish(t Task, status, deliveryID, errMsg string) {
	if q.events == nil {
		return
	}
	q.events.Broadcast(bus.Event{
		Channel: bus.AgentChannel(t.AgentID),
		Name:    protocol.EventDeliveryStatus,
		Payload: bus.DeliveryStatusEvent{
			MessageID:  t.MessageID,
			DeliveryID: deliveryID,
			AgentID:    t.AgentID,
			To:         t.To,
			Status:     status,
			Attempts:   t.Attempts,
			Error:      errMsg,
		},
	})
}
