package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/internal/store/memstore"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	flaky map[string]int // failures left before the body goes through
}

func (g *fakeGateway) SendText(_ context.Context, _ whatsapp.Sender, to, body string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, body)
	if g.fail[body] {
		return "", &whatsapp.APIError{Status: 503, Body: "unavailable"}
	}
	if g.flaky[body] > 0 {
		g.flaky[body]--
		return "", &whatsapp.APIError{Status: 503, Body: "unavailable"}
	}
	return "wamid." + body, nil
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type eventLog struct {
	mu     sync.Mutex
	events []bus.DeliveryStatusEvent
}

func (l *eventLog) handle(e bus.Event) {
	if p, ok := e.Payload.(bus.DeliveryStatusEvent); ok {
		l.mu.Lock()
		l.events = append(l.events, p)
		l.mu.Unlock()
	}
}

func (l *eventLog) count(status string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Status == status {
			n++
		}
	}
	return n
}

func startQueue(t *testing.T, gw Gateway, ms store.MessageStore) (*Queue, *eventLog) {
	t.Helper()
	b := bus.New()
	log := &eventLog{}
	b.Subscribe("test", log.handle)
	q := New(gw, ms, b, Options{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	return q, log
}

func run(t *testing.T, q *Queue) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestAlwaysFailingTaskIsDroppedAfterMaxRetries(t *testing.T) {
	ms := memstore.New()
	msg := &store.MessageRecord{AgentID: "a1", Contact: "573", Direction: store.DirectionOutbound, Body: "bad", Status: store.MessageQueued}
	require.NoError(t, ms.SaveMessage(context.Background(), msg))

	gw := &fakeGateway{fail: map[string]bool{"bad": true}}
	q, log := startQueue(t, gw, ms)
	run(t, q)

	require.NoError(t, q.Enqueue(Task{MessageID: msg.ID, AgentID: "a1", To: "573", Body: "bad"}))

	assert.Eventually(t, func() bool { return log.count(protocol.DeliveryFailed) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	assert.Len(t, gw.Calls(), 3)
	assert.Equal(t, 1, log.count(protocol.DeliveryFailed))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, store.MessageFailed, ms.Messages()[0].Status)
}

func TestFailingTaskDoesNotBlockOthers(t *testing.T) {
	gw := &fakeGateway{fail: map[string]bool{"poison": true}}
	q, log := startQueue(t, gw, nil)
	q.retryDelay = 50 * time.Millisecond

	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "1", Body: "poison"}))
	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "2", Body: "fine"}))
	run(t, q)

	assert.Eventually(t, func() bool { return log.count(protocol.DeliveryFailed) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"poison", "fine", "poison", "poison"}, gw.Calls())
	assert.Equal(t, 1, log.count(protocol.DeliverySent))
}

func TestFIFOOrder(t *testing.T) {
	gw := &fakeGateway{}
	q, log := startQueue(t, gw, nil)
	want := []string{"1", "2", "3", "4", "5"}
	for _, b := range want {
		require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "x", Body: b}))
	}
	run(t, q)

	assert.Eventually(t, func() bool { return log.count(protocol.DeliverySent) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, gw.Calls())
	assert.Equal(t, len(want), log.count(protocol.DeliveryQueued))
}

func TestSuccessMarksMessageSent(t *testing.T) {
	ms := memstore.New()
	msg := &store.MessageRecord{AgentID: "a1", Contact: "573", Direction: store.DirectionOutbound, Body: "ok", Status: store.MessageQueued}
	require.NoError(t, ms.SaveMessage(context.Background(), msg))

	q, log := startQueue(t, &fakeGateway{}, ms)
	run(t, q)
	require.NoError(t, q.Enqueue(Task{MessageID: msg.ID, AgentID: "a1", To: "573", Body: "ok"}))

	assert.Eventually(t, func() bool { return log.count(protocol.DeliverySent) == 1 }, time.Second, 5*time.Millisecond)
	got := ms.Messages()[0]
	assert.Equal(t, store.MessageSent, got.Status)
	assert.Equal(t, "wamid.ok", got.ExternalID)
}

func TestEnqueueAfterStop(t *testing.T) {
	q := New(&fakeGateway{}, nil, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := q.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, q.Enqueue(Task{Body: "late"}), ErrQueueClosed)
}

func TestHeapOrdering(t *testing.T) {
	now := time.Unix(100, 0)
	q := New(&fakeGateway{}, nil, nil, Options{Now: func() time.Time { return now }})
	q.mu.Lock()
	q.push(&item{task: Task{Body: "later"}, due: now.Add(time.Second), seq: 1})
	q.push(&item{task: Task{Body: "first"}, due: now, seq: 2})
	q.push(&item{task: Task{Body: "second"}, due: now, seq: 3})
	q.mu.Unlock()

	t1, _, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "first", t1.task.Body)
	t2, _, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "second", t2.task.Body)
	_, wait, ok := q.next()
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)
}

func TestRetryKeepsPerContactOrder(t *testing.T) {
	gw := &fakeGateway{flaky: map[string]int{"first": 1}}
	q, log := startQueue(t, gw, nil)
	q.retryDelay = 30 * time.Millisecond

	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "1", Body: "first"}))
	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "1", Body: "second"}))
	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "2", Body: "other"}))
	run(t, q)

	assert.Eventually(t, func() bool { return log.count(protocol.DeliverySent) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"first", "other", "first", "second"}, gw.Calls())
	assert.Equal(t, 0, q.Len())
}

func TestDroppedTaskReleasesParked(t *testing.T) {
	gw := &fakeGateway{fail: map[string]bool{"poison": true}}
	q, log := startQueue(t, gw, nil)

	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "1", Body: "poison"}))
	require.NoError(t, q.Enqueue(Task{AgentID: "a1", To: "1", Body: "after"}))
	run(t, q)

	assert.Eventually(t, func() bool { return log.count(protocol.DeliverySent) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"poison", "poison", "poison", "after"}, gw.Calls())
	assert.Equal(t, 1, log.count(protocol.DeliveryFailed))
}
