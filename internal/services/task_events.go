package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/models"
	"github.com/taskflowhq/taskflow/internal/realtime"
	"github.com/taskflowhq/taskflow/internal/status"
	"github.com/taskflowhq/taskflow/pkg/logger"
)

// TaskEventService is the surface the mutation layer calls after a task
// change commits: it fans the event out to online stakeholders and brings the
// owning project's derived state up to date. Broadcast and recompute are both
// best-effort follow-ups to an already committed write; neither can undo the
// mutation, so failures are logged and swallowed.
type TaskEventService struct {
	broadcaster *realtime.Broadcaster
	calculator  *status.Calculator
	log         *zap.Logger
}

// NewTaskEventService constructs a TaskEventService.
func NewTaskEventService(broadcaster *realtime.Broadcaster, calculator *status.Calculator) (*TaskEventService, error) {
	if broadcaster == nil {
		return nil, errors.New("task events: broadcaster is required")
	}
	if calculator == nil {
		return nil, errors.New("task events: calculator is required")
	}
	return &TaskEventService{
		broadcaster: broadcaster,
		calculator:  calculator,
		log:         logger.WithModule("services.task_events"),
	}, nil
}

// TaskCreated handles a freshly committed task.
func (s *TaskEventService) TaskCreated(ctx context.Context, task *models.Task, actorID string) {
	s.dispatch(ctx, task, realtime.ActionCreated, actorID)
}

// TaskUpdated handles a committed update, including subtask completion.
func (s *TaskEventService) TaskUpdated(ctx context.Context, task *models.Task, actorID string) {
	s.dispatch(ctx, task, realtime.ActionUpdated, actorID)
}

// TaskDeleted handles a committed deletion; the snapshot is the task as it
// existed before removal so stakeholders can still be resolved.
func (s *TaskEventService) TaskDeleted(ctx context.Context, task *models.Task, actorID string) {
	s.dispatch(ctx, task, realtime.ActionDeleted, actorID)
}

func (s *TaskEventService) dispatch(ctx context.Context, task *models.Task, action realtime.Action, actorID string) {
	if task == nil {
		return
	}

	s.broadcaster.BroadcastTaskEvent(ctx, task, action, actorID)

	if task.ProjectID == nil || *task.ProjectID == "" {
		return
	}

	if _, err := s.calculator.Apply(ctx, *task.ProjectID); err != nil {
		if errors.Is(err, status.ErrProjectNotFound) {
			return
		}
		s.log.Warn("project recompute failed",
			zap.String("project_id", *task.ProjectID),
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}
}
