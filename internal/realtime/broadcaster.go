package realtime

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/models"
	"github.com/taskflowhq/taskflow/pkg/logger"
	"github.com/taskflowhq/taskflow/pkg/metrics"
)

// StakeholderSource resolves which users are entitled to observe an entity
// mutation. Resolution runs fresh per event; results are never cached here.
type StakeholderSource interface {
	TaskStakeholders(ctx context.Context, task *models.Task) ([]string, error)
	TaskByID(ctx context.Context, id string) (*models.Task, error)
}

// Broadcaster fans mutation events out to the online subset of an entity's
// stakeholders. Delivery is best-effort and fire-and-forget: offline users
// are skipped, slow connections are cut loose, and nothing here ever blocks
// on a recipient's I/O.
type Broadcaster struct {
	registry *Registry
	resolver StakeholderSource
	now      func() time.Time
	log      *zap.Logger
}

// BroadcasterOption customises the broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcastClock overrides the timestamp clock, primarily for testing.
func WithBroadcastClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroadcaster constructs a Broadcaster.
func NewBroadcaster(registry *Registry, resolver StakeholderSource, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		registry: registry,
		resolver: resolver,
		now:      time.Now,
		log:      logger.WithModule("realtime.broadcast"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Deliver serialises the envelope once and enqueues it on every live
// connection of every recipient. A full queue kills that connection only;
// delivery to the remaining recipients proceeds. Offline recipients are
// silently skipped.
func (b *Broadcaster) Deliver(env Envelope, recipients map[string]struct{}) {
	if len(recipients) == 0 {
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		b.log.Error("marshal envelope", zap.String("type", env.EnvelopeType()), zap.Error(err))
		return
	}

	for userID := range recipients {
		for _, conn := range b.registry.ConnectionsFor(userID) {
			if conn.enqueue(payload) {
				metrics.EnvelopesDelivered.WithLabelValues(env.EnvelopeType()).Inc()
				continue
			}

			// Backpressure means the peer stopped draining; treat the
			// connection as dead rather than stalling anyone else.
			metrics.EnvelopesDropped.Inc()
			b.log.Warn("dropping backpressured connection",
				zap.String("user_id", userID),
				zap.String("connection_id", conn.ID()),
			)
			conn.close()
		}
	}
}

// BroadcastTaskEvent resolves the task's stakeholder set, removes the acting
// user, and delivers a task_update envelope to whoever is online right now.
// Resolver failures degrade to a partial or empty recipient set and are
// logged, never propagated.
func (b *Broadcaster) BroadcastTaskEvent(ctx context.Context, task *models.Task, action Action, actorID string) {
	if task == nil {
		return
	}

	stakeholders, err := b.resolver.TaskStakeholders(ctx, task)
	if err != nil {
		b.log.Warn("stakeholder resolution degraded",
			zap.String("task_id", task.ID),
			zap.Int("resolved", len(stakeholders)),
			zap.Error(err),
		)
	}

	recipients := recipientSet(stakeholders, actorID)
	if len(recipients) == 0 {
		return
	}

	b.Deliver(NewTaskUpdate(action, task, actorID, b.now()), recipients)
}

// BroadcastTyping notifies a task's stakeholders that the actor is typing,
// using the same recipient resolution and actor-exclusion rules as task
// events but with a lightweight payload.
func (b *Broadcaster) BroadcastTyping(ctx context.Context, taskID, actorID string) {
	task, err := b.resolver.TaskByID(ctx, taskID)
	if err != nil {
		b.log.Debug("typing event for unresolvable task",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return
	}

	stakeholders, err := b.resolver.TaskStakeholders(ctx, task)
	if err != nil {
		b.log.Warn("stakeholder resolution degraded",
			zap.String("task_id", task.ID),
			zap.Int("resolved", len(stakeholders)),
			zap.Error(err),
		)
	}

	recipients := recipientSet(stakeholders, actorID)
	if len(recipients) == 0 {
		return
	}

	ref := TaskRef{ID: task.ID, Title: task.Title}
	b.Deliver(NewTaskUpdate(ActionUserTyping, ref, actorID, b.now()), recipients)
}

// recipientSet deduplicates stakeholder ids and excludes the actor: a user
// never receives an echo of their own action, regardless of how many
// relationships grant them access.
func recipientSet(stakeholders []string, actorID string) map[string]struct{} {
	set := make(map[string]struct{}, len(stakeholders))
	for _, id := range stakeholders {
		if id == "" || id == actorID {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}
