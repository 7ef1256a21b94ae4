package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Dispatcher drains the touch queue: claim a batch under lease, run the
// pre-send checks, render, send, record. Provider sends are at most
// once; a failure after the provider accepted the message is logged and
// the touch is still marked sent.
type Dispatcher struct {
	store    Store
	val      *validator
	adapters map[domain.Channel]channel.Adapter
	renderer *channel.Renderer
	cfg      config.DispatchConfig
	workerID string
	log      *logger.Logger
	now      func() time.Time
}

// NewDispatcher wires the dispatch pool. adapters may omit channels the
// deployment does not send on; touches for a missing adapter are skipped.
func NewDispatcher(store Store, suppressor Suppressor, tokens TokenSource, adapters map[domain.Channel]channel.Adapter, renderer *channel.Renderer, cfg config.DispatchConfig) *Dispatcher {
	host, _ := os.Hostname()
	return &Dispatcher{
		store:    store,
		val:      &validator{store: store, suppressor: suppressor, tokens: tokens},
		adapters: adapters,
		renderer: renderer,
		cfg:      cfg,
		workerID: fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
		log:      logger.For("dispatch"),
		now:      time.Now,
	}
}

// Run polls the queue until ctx is cancelled. Claimed touches fan out to
// cfg.Workers goroutines; the claim lease keeps a crashed worker's batch
// recoverable.
func (d *Dispatcher) Run(ctx context.Context) {
	jobs := make(chan domain.ScheduledTouch)
	var wg sync.WaitGroup

	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				d.process(ctx, &t)
			}
		}()
	}

	d.log.Info("dispatch pool started", "worker_id", d.workerID, "workers", d.cfg.Workers)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			d.log.Info("dispatch pool stopped", "worker_id", d.workerID)
			return
		case <-ticker.C:
		}

		batch, err := d.store.ClaimBatch(ctx, d.workerID, d.cfg.BatchSize)
		if err != nil {
			d.log.Error("claim batch failed", "error", err.Error())
			continue
		}
		for _, t := range batch {
			select {
			case jobs <- t:
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return
			}
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, t *domain.ScheduledTouch) {
	now := d.now()

	state, err := d.val.validate(ctx, t, now)
	if err != nil {
		if skip, ok := err.(*skipError); ok {
			d.skip(ctx, t, skip.code, skip.reason)
			return
		}
		if errs.IsKind(err, errs.RateLimited) {
			d.requeue(ctx, t)
			return
		}
		d.retry(ctx, t, err)
		return
	}

	adapter, ok := d.adapters[t.Channel]
	if !ok {
		d.skip(ctx, t, "dispatch.no_adapter", string(t.Channel))
		return
	}

	to := destinationFor(t.Channel, state.lead)
	if to == "" {
		d.skip(ctx, t, "dispatch.no_destination", string(t.Channel))
		return
	}

	rendered, err := d.renderer.Render(t.TemplateRef, state.lead, state.client.Name)
	if err != nil {
		if errs.IsKind(err, errs.NotFound) {
			d.skip(ctx, t, "dispatch.no_template", t.TemplateRef)
			return
		}
		d.retry(ctx, t, err)
		return
	}

	thread, err := d.store.GetOrCreateThread(ctx, t.ClientID, t.PoolLeadID, t.Channel)
	if err != nil {
		d.retry(ctx, t, err)
		return
	}

	env := &channel.Envelope{
		TouchID:        t.ID,
		ClientID:       t.ClientID,
		CampaignID:     t.CampaignID,
		PoolLeadID:     t.PoolLeadID,
		Resource:       t.Resource,
		To:             to,
		FromName:       state.client.Name,
		FromAddress:    t.Resource,
		Subject:        rendered.Subject,
		Body:           rendered.Body,
		IdempotencyKey: idempotencyKey(t.ID),
	}
	if t.Channel == domain.ChannelEmail && t.TouchNumber > 1 {
		// Follow-ups thread under the first send.
		if prev, err := d.store.LastOutboundInThread(ctx, thread.ID); err == nil && prev != nil {
			env.InReplyTo = prev.ProviderMessageID
			env.Subject = "Re: " + prev.Content.Subject
		}
	}

	res, err := adapter.Send(ctx, env)
	if err != nil {
		switch errs.KindOf(err) {
		case errs.RateLimited:
			d.requeue(ctx, t)
		case errs.ProviderPermanent, errs.Validation, errs.Suppressed:
			d.log.Warn("provider rejected touch",
				"touch_id", t.ID, "channel", string(t.Channel), "code", errs.CodeOf(err))
			d.skip(ctx, t, errs.CodeOf(err), err.Error())
		default:
			d.retry(ctx, t, err)
		}
		return
	}

	// The provider accepted the message. Everything below is
	// bookkeeping; failures are logged, never retried, because a retry
	// would send twice.
	d.record(ctx, t, thread, env, res, now)
}

// record persists the outcome of an accepted send.
func (d *Dispatcher) record(ctx context.Context, t *domain.ScheduledTouch, thread *domain.Thread, env *channel.Envelope, res *channel.SendResult, now time.Time) {
	activity := &domain.Activity{
		ClientID:          t.ClientID,
		CampaignID:        t.CampaignID,
		PoolLeadID:        t.PoolLeadID,
		Channel:           t.Channel,
		Resource:          t.Resource,
		Action:            domain.ActionSent,
		ProviderMessageID: res.ProviderMessageID,
		ThreadID:          thread.ID,
		TouchNumber:       t.TouchNumber,
		SentAt:            now,
		Content: domain.ContentSnapshot{
			Subject:  env.Subject,
			Body:     env.Body,
			Enhanced: t.Enhanced,
		},
	}
	if _, err := d.store.InsertActivity(ctx, activity); err != nil {
		d.log.Error("record sent activity failed", "touch_id", t.ID, "error", err.Error())
	}

	msg := &domain.Message{
		ThreadID:  thread.ID,
		Direction: domain.DirectionOutbound,
		Content:   env.Body,
		Position:  thread.MessageCount,
		CreatedAt: now,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		d.log.Error("append outbound message failed", "touch_id", t.ID, "error", err.Error())
	}

	if err := d.store.MarkSent(ctx, t.ID, d.workerID); err != nil {
		d.log.Error("mark sent failed", "touch_id", t.ID, "error", err.Error())
	}
	if err := d.store.ConsumeCredit(ctx, t.ClientID); err != nil {
		d.log.Error("consume credit failed", "client_id", t.ClientID, "error", err.Error())
	}
	if err := d.store.AdvanceSequence(ctx, t.ClientID, t.PoolLeadID, t.TouchNumber, nil); err != nil {
		d.log.Error("advance sequence failed", "touch_id", t.ID, "error", err.Error())
	}

	d.log.Info("touch sent",
		"touch_id", t.ID, "channel", string(t.Channel),
		"touch_number", t.TouchNumber, "provider_message_id", res.ProviderMessageID,
		"hint", res.DeliverabilityHint)
}

// skip drops a touch permanently and records why on an activity row.
func (d *Dispatcher) skip(ctx context.Context, t *domain.ScheduledTouch, code, reason string) {
	if err := d.store.MarkSkipped(ctx, t.ID, d.workerID); err != nil {
		d.log.Error("mark skipped failed", "touch_id", t.ID, "error", err.Error())
		return
	}
	activity := &domain.Activity{
		ClientID:      t.ClientID,
		CampaignID:    t.CampaignID,
		PoolLeadID:    t.PoolLeadID,
		Channel:       t.Channel,
		Resource:      t.Resource,
		Action:        domain.ActionSkipped,
		TouchNumber:   t.TouchNumber,
		SentAt:        d.now(),
		FailureReason: code + ": " + reason,
	}
	if _, err := d.store.InsertActivity(ctx, activity); err != nil {
		d.log.Error("record skip failed", "touch_id", t.ID, "error", err.Error())
	}
	d.log.Info("touch skipped", "touch_id", t.ID, "code", code, "reason", reason)
}

// requeue pushes a rate-limited touch to the next send window. The store
// converts the touch to skipped once it has been pushed MaxWindowRequeue
// times; a resource that is saturated for days should not hold a stale
// touch forever.
func (d *Dispatcher) requeue(ctx context.Context, t *domain.ScheduledTouch) {
	next := nextSendWindow(d.now(), d.cfg.SendWindowStart)
	status, err := d.store.RequeueNextWindow(ctx, t.ID, d.workerID, next, d.cfg.MaxWindowRequeue)
	if err != nil {
		d.log.Error("requeue failed", "touch_id", t.ID, "error", err.Error())
		return
	}
	if status == domain.TouchSkipped {
		d.log.Warn("touch dropped after repeated rate limiting",
			"touch_id", t.ID, "channel", string(t.Channel), "resource", t.Resource)
		return
	}
	d.log.Debug("touch requeued", "touch_id", t.ID, "next_window", next.Format(time.RFC3339))
}

// retry schedules another attempt with exponential backoff. The store
// dead-letters the touch once attempts reach MaxAttempts.
func (d *Dispatcher) retry(ctx context.Context, t *domain.ScheduledTouch, cause error) {
	delay := backoffDelay(t.Attempts, d.cfg.BackoffBase, d.cfg.BackoffMax)
	status, err := d.store.Retry(ctx, t.ID, d.workerID, delay, d.cfg.MaxAttempts)
	if err != nil {
		d.log.Error("schedule retry failed", "touch_id", t.ID, "error", err.Error())
		return
	}
	if status == domain.TouchDeadLetter {
		d.log.Error("touch dead-lettered",
			"touch_id", t.ID, "channel", string(t.Channel),
			"attempts", t.Attempts+1, "cause", cause.Error())
		return
	}
	d.log.Debug("touch retry scheduled",
		"touch_id", t.ID, "attempt", t.Attempts+1, "delay", delay.String(), "cause", cause.Error())
}

// destinationFor resolves the wire destination for a channel from the
// pool lead's contact fields.
func destinationFor(ch domain.Channel, lead *domain.PoolLead) string {
	switch ch {
	case domain.ChannelEmail:
		return lead.Email
	case domain.ChannelSMS, domain.ChannelVoice:
		return lead.Phone
	case domain.ChannelLinkedIn:
		return lead.LinkedInURL
	case domain.ChannelMail:
		return lead.Company
	}
	return ""
}

// idempotencyKey derives a stable provider dedupe key from the touch ID,
// so a crash between send and mark-sent cannot double-deliver.
func idempotencyKey(touchID string) string {
	sum := sha256.Sum256([]byte("touch:" + touchID))
	return hex.EncodeToString(sum[:16])
}

// backoffDelay doubles from base per attempt, capped at max.
func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// nextSendWindow returns the next occurrence of the daily window start.
func nextSendWindow(now time.Time, startHour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), startHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
