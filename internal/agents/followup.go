package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/salesclaw/internal/bus"
	"github.com/nextlevelbuilder/salesclaw/internal/config"
	"github.com/nextlevelbuilder/salesclaw/internal/router"
	"github.com/nextlevelbuilder/salesclaw/internal/sessions"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
	"github.com/nextlevelbuilder/salesclaw/pkg/protocol"
)

const (
	// maxFollowUpAttempts bounds how often a failing follow-up is re-claimed.
	maxFollowUpAttempts = 3
	sweepBatch          = 100
)

// FollowUpOptions tunes the scheduler.
type FollowUpOptions struct {
	Delay    time.Duration
	Message  string
	Schedule string // cron expression for the recovery sweep; empty = every minute
	Now      func() time.Time
}

// FollowUpDeps are the collaborators of the follow-up scheduler.
type FollowUpDeps struct {
	Tasks    store.FollowUpStore
	Orders   store.OrderStore
	Configs  ConfigSource
	Sessions *sessions.Manager
	Locks    *sessions.KeyedMutex // may be nil
	Outbox   *Outbox
	Events   bus.EventPublisher // may be nil
}

// FollowUps persists re-engagement tasks and fires them when due.
// Each task arms an in-process timer; the cron sweep picks up anything the
// timers missed, such as tasks created before a restart.
type FollowUps struct {
	deps FollowUpDeps
	opts FollowUpOptions

	mu      sync.Mutex
	baseCtx context.Context
	timers  map[string]*time.Timer
}

func NewFollowUps(d FollowUpDeps, opts FollowUpOptions) *FollowUps {
	if opts.Delay <= 0 {
		opts.Delay = 24 * time.Hour
	}
	if opts.Message == "" {
		opts.Message = config.DefaultFollowUpMessage
	}
	if opts.Schedule == "" {
		opts.Schedule = "* * * * *"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &FollowUps{
		deps:    d,
		opts:    opts,
		baseCtx: context.Background(),
		timers:  make(map[string]*time.Timer),
	}
}

// Schedule persists a follow-up for order due after the configured delay.
func (f *FollowUps) Schedule(ctx context.Context, order *store.Order) (*store.FollowUpTask, error) {
	task := &store.FollowUpTask{
		OrderID: order.ID,
		AgentID: order.AgentID,
		Contact: order.Contact,
		DueAt:   f.opts.Now().Add(f.opts.Delay),
		Status:  store.FollowUpPending,
	}
	if err := f.deps.Tasks.CreateFollowUp(ctx, task); err != nil {
		return nil, fmt.Errorf("create follow-up: %w", err)
	}
	f.arm(*task)
	slog.Info("followup: scheduled", "task_id", task.ID, "order_id", order.ID, "due_at", task.DueAt)
	return task, nil
}

func (f *FollowUps) arm(task store.FollowUpTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.timers[task.ID]; ok {
		return
	}
	f.timers[task.ID] = time.AfterFunc(task.DueAt.Sub(f.opts.Now()), func() {
		f.mu.Lock()
		delete(f.timers, task.ID)
		ctx := f.baseCtx
		f.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		f.fire(ctx, task)
	})
}

// Recover fires every due task that is still claimable and returns how many ran.
func (f *FollowUps) Recover(ctx context.Context) (int, error) {
	due, err := f.deps.Tasks.ListDueFollowUps(ctx, f.opts.Now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list due follow-ups: %w", err)
	}
	n := 0
	for _, task := range due {
		if f.fire(ctx, task) {
			n++
		}
	}
	if n > 0 {
		slog.Info("followup: recovery sweep fired tasks", "count", n)
	}
	return n, nil
}

// Run sweeps on start and then on the cron schedule until ctx is cancelled.
// Pending timers are stopped on exit.
func (f *FollowUps) Run(ctx context.Context) error {
	f.mu.Lock()
	f.baseCtx = ctx
	f.mu.Unlock()
	defer f.stopTimers()

	if _, err := f.Recover(ctx); err != nil {
		slog.Warn("followup: startup sweep", "error", err)
	}
	for {
		next, err := gronx.NextTickAfter(f.opts.Schedule, f.opts.Now(), false)
		if err != nil {
			return fmt.Errorf("follow-up sweep schedule %q: %w", f.opts.Schedule, err)
		}
		timer := time.NewTimer(next.Sub(f.opts.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := f.Recover(ctx); err != nil {
			slog.Warn("followup: sweep", "error", err)
		}
	}
}

func (f *FollowUps) stopTimers() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, t := range f.timers {
		t.Stop()
		delete(f.timers, id)
	}
}

// fire claims task and sends the re-engagement message. It reports whether
// this call ran the task.
func (f *FollowUps) fire(ctx context.Context, task store.FollowUpTask) bool {
	claimed, err := f.deps.Tasks.ClaimFollowUp(ctx, task.ID, f.opts.Now())
	if err != nil {
		slog.Warn("followup: claim", "task_id", task.ID, "error", err)
		return false
	}
	if !claimed {
		return false
	}
	attempt := task.Attempts + 1

	if err := f.run(ctx, task); err != nil {
		if attempt >= maxFollowUpAttempts {
			slog.Error("followup: giving up", "task_id", task.ID, "order_id", task.OrderID, "attempts", attempt, "error", err)
			f.complete(ctx, task.ID, store.FollowUpFailed)
		} else {
			// Left running; the sweep reclaims it once the lease expires.
			slog.Warn("followup: attempt failed", "task_id", task.ID, "attempt", attempt, "error", err)
		}
		return true
	}
	f.complete(ctx, task.ID, store.FollowUpDone)
	return true
}

func (f *FollowUps) run(ctx context.Context, task store.FollowUpTask) error {
	order, err := f.deps.Orders.GetOrder(ctx, task.OrderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	cfg, err := f.deps.Configs.GetConfig(ctx, order.AgentID)
	if err != nil {
		return fmt.Errorf("resolve agent: %w", err)
	}
	if _, err := f.deps.Outbox.SendDirect(ctx, cfg, order.Contact, f.opts.Message); err != nil {
		return fmt.Errorf("send follow-up: %w", err)
	}

	k := sessions.Key{AgentID: cfg.ID, Contact: order.Contact}
	if f.deps.Locks != nil {
		unlock := f.deps.Locks.Lock(k.String())
		defer unlock()
	}
	if err := f.deps.Sessions.SetState(ctx, k, string(router.StateFollowUpCompleted)); err != nil {
		return err
	}
	if f.deps.Events != nil {
		f.deps.Events.Broadcast(bus.Event{
			Channel: bus.AgentChannel(cfg.ID),
			Name:    protocol.EventSessionState,
			Payload: bus.SessionStateEvent{AgentID: cfg.ID, Contact: order.Contact, State: string(router.StateFollowUpCompleted), Reason: "follow_up"},
		})
	}
	slog.Info("followup: sent", "task_id", task.ID, "order_id", order.ID, "contact", order.Contact)
	return nil
}

func (f *FollowUps) complete(ctx context.Context, id, status string) {
	if err := f.deps.Tasks.CompleteFollowUp(ctx, id, status); err != nil {
		slog.Warn("followup: complete", "task_id", id, "status", status, "error", err)
	}
}
