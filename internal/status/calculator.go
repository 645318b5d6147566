package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/taskflowhq/taskflow/internal/models"
	"github.com/taskflowhq/taskflow/pkg/metrics"
)

// DerivedState holds the values recomputed from a project's current child
// tasks. It is always derived from a full snapshot, never incremented in
// place, so recomputing twice without intervening changes yields identical
// results.
type DerivedState struct {
	AutoCalculatedStatus models.ProjectStatus `json:"auto_calculated_status"`
	EffectiveStatus      models.ProjectStatus `json:"status"`
	ProgressPercentage   float64              `json:"progress_percentage"`
	TaskCount            int                  `json:"task_count"`
	CompletedTaskCount   int                  `json:"completed_task_count"`
}

// ErrProjectNotFound indicates the project no longer exists.
var ErrProjectNotFound = errors.New("status: project not found")

// Calculator re-derives project status and progress from child tasks.
type Calculator struct {
	db  *gorm.DB
	now func() time.Time
}

// Option customises the Calculator.
type Option func(*Calculator)

// WithNow overrides the clock used for overdue checks, primarily for testing.
func WithNow(now func() time.Time) Option {
	return func(c *Calculator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCalculator constructs a Calculator.
func NewCalculator(db *gorm.DB, opts ...Option) (*Calculator, error) {
	if db == nil {
		return nil, errors.New("status: db is required")
	}

	c := &Calculator{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Recompute derives the project's state from the live set of child tasks.
// A project with zero tasks yields the zero-progress default.
func (c *Calculator) Recompute(ctx context.Context, projectID string) (DerivedState, error) {
	var project models.Project
	err := c.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DerivedState{}, ErrProjectNotFound
	}
	if err != nil {
		return DerivedState{}, fmt.Errorf("status: load project: %w", err)
	}

	var tasks []models.Task
	if err := c.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Find(&tasks).Error; err != nil {
		return DerivedState{}, fmt.Errorf("status: load tasks: %w", err)
	}

	state := deriveState(tasks, c.now())
	state.EffectiveStatus = effectiveStatus(&project, state.AutoCalculatedStatus)
	return state, nil
}

// Apply recomputes the project's derived state and persists it. Safe to call
// redundantly; concurrent applies for the same project converge on the same
// snapshot.
func (c *Calculator) Apply(ctx context.Context, projectID string) (DerivedState, error) {
	state, err := c.Recompute(ctx, projectID)
	if err != nil {
		metrics.StatusRecomputes.WithLabelValues("error").Inc()
		return DerivedState{}, err
	}

	updates := map[string]any{
		"auto_calculated_status": state.AutoCalculatedStatus,
		"status":                 state.EffectiveStatus,
		"progress_percentage":    state.ProgressPercentage,
		"task_count":             state.TaskCount,
		"completed_task_count":   state.CompletedTaskCount,
	}
	if err := c.db.WithContext(ctx).
		Model(&models.Project{}).
		Where("id = ?", projectID).
		Updates(updates).Error; err != nil {
		metrics.StatusRecomputes.WithLabelValues("error").Inc()
		return DerivedState{}, fmt.Errorf("status: persist derived state: %w", err)
	}

	metrics.StatusRecomputes.WithLabelValues("success").Inc()
	return state, nil
}

func deriveState(tasks []models.Task, now time.Time) DerivedState {
	total := len(tasks)

	completed := 0
	hindered := false
	for i := range tasks {
		task := &tasks[i]
		if task.IsCompleted() {
			completed++
			continue
		}
		if task.Status == models.TaskStatusBlocked || task.IsOverdue(now) {
			hindered = true
		}
	}

	var progress float64
	if total > 0 {
		progress = round2(float64(completed) / float64(total) * 100)
	}

	auto := models.ProjectStatusActive
	switch {
	case total > 0 && progress == 100:
		auto = models.ProjectStatusCompleted
	case hindered:
		auto = models.ProjectStatusOnHold
	}

	return DerivedState{
		AutoCalculatedStatus: auto,
		ProgressPercentage:   progress,
		TaskCount:            total,
		CompletedTaskCount:   completed,
	}
}

func effectiveStatus(project *models.Project, auto models.ProjectStatus) models.ProjectStatus {
	if project.StatusOverride != nil && *project.StatusOverride != "" {
		return *project.StatusOverride
	}
	return auto
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
