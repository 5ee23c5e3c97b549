// Package scheduler runs the dispatch loop that drains dispatch-ready
// queue entries and hands them to the call execution gateway.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-call-queue/internal/domain"
	"github.com/acme/lead-call-queue/internal/gateway"
	"github.com/acme/lead-call-queue/internal/repository"
	schedulesvc "github.com/acme/lead-call-queue/internal/service/schedule"
	apperrors "github.com/acme/lead-call-queue/pkg/errors"
	"github.com/acme/lead-call-queue/pkg/logger"
)

// SlotAcquirer reserves a per-agent concurrency slot before dispatch.
type SlotAcquirer interface {
	Acquire(ctx context.Context, agentID uuid.UUID, limit int) (bool, error)
	Release(ctx context.Context, agentID uuid.UUID) error
}

// Options tune the dispatch loop.
type Options struct {
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	PerAgentLimit  int
}

// Dispatcher polls for due entries and invokes the gateway.
type Dispatcher struct {
	schedule *schedulesvc.Service
	leads    repository.LeadStore
	agents   repository.AgentRegistry
	provider gateway.Provider
	slots    SlotAcquirer
	logger   *logger.Logger
	opts     Options
}

// New constructs a dispatcher. slots may be nil when no limiter is wired.
func New(
	schedule *schedulesvc.Service,
	leads repository.LeadStore,
	agents repository.AgentRegistry,
	provider gateway.Provider,
	slots SlotAcquirer,
	lg *logger.Logger,
	opts Options,
) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 15 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Dispatcher{
		schedule: schedule,
		leads:    leads,
		agents:   agents,
		provider: provider,
		slots:    slots,
		logger:   lg,
		opts:     opts,
	}
}

// Run executes the dispatch loop until cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("dispatcher: tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick drains one batch of dispatch-ready entries. Per-entry failures
// are logged and skipped so one bad entry never stalls the batch.
func (d *Dispatcher) Tick(ctx context.Context) error {
	tracer := otel.Tracer("leadq.dispatcher")
	sctx, span := tracer.Start(ctx, "dispatcher.tick")
	defer span.End()

	now := time.Now().UTC()
	entries, err := d.schedule.DispatchReady(sctx, now, d.opts.BatchSize)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("entries.ready", len(entries)))

	for _, entry := range entries {
		d.dispatchOne(sctx, tracer, entry)
	}

	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, tracer trace.Tracer, entry *domain.QueueEntry) {
	ectx, span := tracer.Start(ctx, "dispatcher.entry", trace.WithAttributes(
		attribute.String("entry.id", entry.ID.String()),
		attribute.String("agent.id", entry.AgentID.String()),
		attribute.Int("entry.priority", entry.Priority),
		attribute.Int("entry.retry_count", entry.RetryCount),
	))
	defer span.End()

	lead, err := d.leads.GetLead(ectx, entry.LeadID)
	if err != nil {
		span.RecordError(err)
		d.logger.Error("dispatcher: lookup lead", zap.Error(err), zap.String("entry_id", entry.ID.String()))
		return
	}

	agent, err := d.agents.GetAgent(ectx, entry.AgentID)
	if err != nil {
		span.RecordError(err)
		d.logger.Error("dispatcher: lookup agent", zap.Error(err), zap.String("entry_id", entry.ID.String()))
		return
	}

	req, err := gateway.BuildCallRequest(entry, lead, agent)
	if err != nil {
		span.RecordError(err)
		if apperrors.Is(err, apperrors.ErrNotSynced) {
			// Entry stays scheduled; nothing was sent to the provider.
			d.logger.Warn("dispatcher: agent missing provider binding, entry skipped",
				zap.String("entry_id", entry.ID.String()),
				zap.String("agent_id", entry.AgentID.String()))
			return
		}
		d.logger.Error("dispatcher: build call request", zap.Error(err), zap.String("entry_id", entry.ID.String()))
		return
	}

	release, ok := d.acquireSlot(ectx, entry.AgentID)
	if !ok {
		span.SetAttributes(attribute.Bool("slot.denied", true))
		return
	}

	callCtx, cancel := context.WithTimeout(ectx, d.opts.RequestTimeout)
	handle, err := d.provider.InitiateCall(callCtx, req)
	cancel()
	if err != nil {
		// Pre-dispatch failure: no state change, the entry remains
		// scheduled and will be retried on a later poll.
		span.RecordError(err)
		release()
		d.logger.Warn("dispatcher: call initiation failed",
			zap.Error(err), zap.String("entry_id", entry.ID.String()))
		return
	}

	if err := d.schedule.MarkDispatched(ectx, entry.ID, handle.ExternalCallID); err != nil {
		span.RecordError(err)
		release()
		if apperrors.Is(err, apperrors.ErrInvalidState) {
			// Another worker won the dispatch race after we placed the
			// call; the orphaned call's events will be dropped by the
			// reconciler as uncorrelated.
			d.logger.Error("dispatcher: entry dispatched concurrently",
				zap.String("entry_id", entry.ID.String()),
				zap.String("external_call_id", handle.ExternalCallID))
			return
		}
		d.logger.Error("dispatcher: mark dispatched", zap.Error(err), zap.String("entry_id", entry.ID.String()))
		return
	}

	d.logger.Info("dispatcher: call dispatched",
		zap.String("entry_id", entry.ID.String()),
		zap.String("external_call_id", handle.ExternalCallID),
		zap.Int("priority", entry.Priority))
}

// acquireSlot reserves a concurrency slot; the returned release func is
// a no-op when dispatch succeeds, since the slot is then held until the
// reconciler frees it.
func (d *Dispatcher) acquireSlot(ctx context.Context, agentID uuid.UUID) (func(), bool) {
	if d.slots == nil {
		return func() {}, true
	}

	acquired, err := d.slots.Acquire(ctx, agentID, d.opts.PerAgentLimit)
	if err != nil {
		d.logger.Warn("dispatcher: acquire slot", zap.Error(err), zap.String("agent_id", agentID.String()))
		return func() {}, false
	}
	if !acquired {
		return func() {}, false
	}

	release := func() {
		if err := d.slots.Release(context.Background(), agentID); err != nil {
			d.logger.Warn("dispatcher: release slot", zap.Error(err))
		}
	}
	return release, true
}
