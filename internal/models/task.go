package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "todo"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// TaskPriority enumerates scheduling priorities.
type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// Task is the unit of work users collaborate on. Ownership and access lists
// are stored as JSON arrays of user/team ids; the membership resolver expands
// them into concrete recipient sets.
type Task struct {
	BaseModel

	Title       string       `gorm:"not null" json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `gorm:"index;default:todo" json:"status"`
	Priority    TaskPriority `gorm:"default:medium" json:"priority"`

	ProjectID *string `gorm:"type:uuid;index" json:"project_id,omitempty"`

	OwnerID       string                      `gorm:"type:uuid;index;not null" json:"owner_id"`
	AssignedUsers datatypes.JSONSlice[string] `json:"assigned_users"`
	Collaborators datatypes.JSONSlice[string] `json:"collaborators"`
	AssignedTeams datatypes.JSONSlice[string] `json:"assigned_teams"`
	Tags          datatypes.JSONSlice[string] `json:"tags"`

	EstimatedDuration *int `json:"estimated_duration,omitempty"` // minutes
	ActualDuration    *int `json:"actual_duration,omitempty"`    // minutes

	DueDate     *time.Time `json:"due_date,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the task counts towards project progress.
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}

// IsOverdue reports whether the task is past its due date and still open.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.DueDate.Before(now) && t.Status != TaskStatusCompleted
}
