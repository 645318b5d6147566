package membership

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/taskflowhq/taskflow/internal/models"
	apperrors "github.com/taskflowhq/taskflow/pkg/errors"
)

// ErrTaskNotFound indicates the requested task does not exist.
var ErrTaskNotFound = apperrors.New("TASK_NOT_FOUND", "Task not found", 404)

// Resolver answers stakeholder questions against the backing store. It holds
// no state of its own; every call issues fresh read-only queries so team and
// collaborator changes are visible immediately.
type Resolver struct {
	db *gorm.DB
}

// NewResolver constructs a Resolver.
func NewResolver(db *gorm.DB) (*Resolver, error) {
	if db == nil {
		return nil, errors.New("membership: db is required")
	}
	return &Resolver{db: db}, nil
}

// TaskByID loads a task snapshot, used when re-broadcasting typing events.
func (r *Resolver) TaskByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("membership: load task: %w", err)
	}
	return &task, nil
}

// TeamsForUser returns the ids of every team the user belongs to.
func (r *Resolver) TeamsForUser(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	var teamIDs []string
	err := r.db.WithContext(ctx).
		Table("user_teams").
		Where("user_id = ?", userID).
		Pluck("team_id", &teamIDs).Error
	if err != nil {
		return nil, fmt.Errorf("membership: teams for user: %w", err)
	}
	return teamIDs, nil
}

// ExpandTeams returns the distinct user ids belonging to any of the teams.
func (r *Resolver) ExpandTeams(ctx context.Context, teamIDs []string) ([]string, error) {
	teamIDs = compactIDs(teamIDs)
	if len(teamIDs) == 0 {
		return nil, nil
	}

	var userIDs []string
	err := r.db.WithContext(ctx).
		Table("user_teams").
		Distinct("user_id").
		Where("team_id IN ?", teamIDs).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("membership: expand teams: %w", err)
	}
	return userIDs, nil
}

// TaskStakeholders computes the full set of user ids entitled to observe a
// mutation of the supplied task snapshot: owner, assigned users,
// collaborators, assigned-team members, and, when the task belongs to a
// project, the project owner and collaborators. The result is deduplicated
// and recomputed fresh on every call.
//
// A partial set plus a non-nil error is returned when the store fails midway;
// callers decide whether degraded delivery is acceptable.
func (r *Resolver) TaskStakeholders(ctx context.Context, task *models.Task) ([]string, error) {
	if task == nil {
		return nil, errors.New("membership: task is required")
	}

	set := make(map[string]struct{})
	add := func(ids ...string) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				set[id] = struct{}{}
			}
		}
	}

	add(task.OwnerID)
	add(task.AssignedUsers...)
	add(task.Collaborators...)

	var firstErr error

	if members, err := r.ExpandTeams(ctx, task.AssignedTeams); err != nil {
		firstErr = err
	} else {
		add(members...)
	}

	if task.ProjectID != nil && *task.ProjectID != "" {
		var project models.Project
		err := r.db.WithContext(ctx).First(&project, "id = ?", *task.ProjectID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			// Dangling project reference; stakeholders fall back to the task's own lists.
		case err != nil:
			if firstErr == nil {
				firstErr = fmt.Errorf("membership: load project: %w", err)
			}
		default:
			add(project.OwnerID)
			add(project.Collaborators...)
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out, firstErr
}

func compactIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
