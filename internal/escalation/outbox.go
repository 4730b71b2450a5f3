// Package escalation queues paused and override-required decisions for
// human attention and delivers them with retries.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/davidahmann/steward/internal/ledger"
	"github.com/davidahmann/steward/pkg/types"
)

var (
	ErrMissingStore = errors.New("missing escalation store")
	ErrUncommitted  = errors.New("decision has no audit event")
)

// Notice is the payload a reviewer receives.
type Notice struct {
	EscalationID string           `json:"escalation_id"`
	RequestID    string           `json:"request_id"`
	Action       string           `json:"action"`
	ActionID     string           `json:"action_id,omitempty"`
	ActorID      string           `json:"actor_id"`
	TargetID     string           `json:"target_id,omitempty"`
	Verdict      types.Verdict    `json:"verdict"`
	ReasonCode   types.ReasonCode `json:"reason_code"`
	Reason       string           `json:"reason"`
	AuditEventID string           `json:"audit_event_id,omitempty"`
	DecidedAt    time.Time        `json:"decided_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Escalates reports whether d is a decision a human should hear about.
func Escalates(d types.Decision) bool {
	return d.Verdict == types.VerdictPause || d.Verdict == types.VerdictOverrideRequired
}

type Outbox struct {
	store ledger.Store
	now   func() time.Time
}

func NewOutbox(store ledger.Store, now func() time.Time) *Outbox {
	if now == nil {
		now = time.Now
	}
	return &Outbox{store: store, now: now}
}

// Escalate enqueues a notice for d. The notice is keyed by the decision's
// audit event, so each committed decision yields at most one notice no
// matter which request id the caller chose.
func (o *Outbox) Escalate(ctx context.Context, req types.ActionRequest, d types.Decision) error {
	if o.store == nil {
		return ErrMissingStore
	}
	if !Escalates(d) {
		return nil
	}
	if d.AuditEventID == "" {
		return ErrUncommitted
	}
	id := "esc_" + d.AuditEventID
	if _, ok, err := o.store.GetEscalation(ctx, id); err != nil {
		return err
	} else if ok {
		return nil
	}

	payload, err := json.Marshal(Notice{
		EscalationID: id,
		RequestID:    d.RequestID,
		Action:       d.Action,
		ActionID:     req.ActionID,
		ActorID:      req.ActorID,
		TargetID:     req.TargetID,
		Verdict:      d.Verdict,
		ReasonCode:   d.Code,
		Reason:       d.Reason,
		AuditEventID: d.AuditEventID,
		DecidedAt:    d.DecidedAt,
	})
	if err != nil {
		return err
	}
	now := ledger.NormalizeTime(o.now())
	return o.store.PutEscalation(ctx, ledger.EscalationRecord{
		EscalationID:  id,
		RequestID:     d.RequestID,
		ActionID:      req.ActionID,
		ReasonCode:    string(d.Code),
		PayloadJSON:   payload,
		Status:        ledger.EscalationPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
}

// ProcessDue delivers due pending escalations and applies exponential
// backoff to failures.
func ProcessDue(ctx context.Context, store ledger.Store, notifier Notifier, now time.Time, limit int) (int, error) {
	if store == nil {
		return 0, ErrMissingStore
	}
	if notifier == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = 50
	}
	now = ledger.NormalizeTime(now)

	due, err := store.ListEscalationsDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, rec := range due {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if rec.Status != ledger.EscalationPending {
			continue
		}

		var notice Notice
		if err := json.Unmarshal(rec.PayloadJSON, &notice); err != nil {
			// Undeliverable; close it so it is not retried forever.
			msg := "invalid payload: " + err.Error()
			rec.LastError = &msg
			markSent(&rec, now)
			if err := store.PutEscalation(ctx, rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		if err := notifier.Notify(ctx, notice); err != nil {
			rec.NextAttemptAt = now.Add(nextAttempt(rec.AttemptCount))
			rec.AttemptCount++
			msg := err.Error()
			rec.LastError = &msg
			rec.UpdatedAt = now
			if err := store.PutEscalation(ctx, rec); err != nil {
				return processed, err
			}
			processed++
			continue
		}

		markSent(&rec, now)
		if err := store.PutEscalation(ctx, rec); err != nil {
			return processed, err
		}
		processed++
	}
	return processed, nil
}

func markSent(rec *ledger.EscalationRecord, now time.Time) {
	rec.Status = ledger.EscalationSent
	sentAt := now
	rec.SentAt = &sentAt
	rec.UpdatedAt = now
}

func nextAttempt(attemptCount int) time.Duration {
	// 5s, 10s, 20s, 40s, ... capped at 5m.
	base := 5 * time.Second
	if attemptCount <= 0 {
		return base
	}
	if attemptCount > 16 {
		attemptCount = 16
	}
	d := base << attemptCount
	if limit := 5 * time.Minute; d > limit {
		return limit
	}
	return d
}

// RunWorker polls for due escalations until ctx is cancelled.
func RunWorker(ctx context.Context, store ledger.Store, notifier Notifier, pollInterval time.Duration, logger *zap.Logger) error {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := ProcessDue(ctx, store, notifier, now, 25)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("escalation pass failed", zap.Int("processed", n), zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("escalations processed", zap.Int("processed", n))
			}
		}
	}
}

func (n Notice) String() string {
	return fmt.Sprintf("%s %s (%s) for %s", n.Verdict, n.Action, n.ReasonCode, n.ActorID)
}
