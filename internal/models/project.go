package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProjectStatus enumerates the lifecycle states of a project.
type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

// Project aggregates tasks. Status, progress and the task counters are
// derived from the current child tasks by the status calculator; Status is
// the effective value (StatusOverride when set, AutoCalculatedStatus
// otherwise) and is never edited in place.
type Project struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	OwnerID       string                      `gorm:"type:uuid;index;not null" json:"owner_id"`
	Collaborators datatypes.JSONSlice[string] `json:"collaborators"`

	Status               ProjectStatus  `gorm:"default:active" json:"status"`
	StatusOverride       *ProjectStatus `json:"status_override,omitempty"`
	AutoCalculatedStatus ProjectStatus  `gorm:"default:active" json:"auto_calculated_status"`

	ProgressPercentage float64 `json:"progress_percentage"`
	TaskCount          int     `json:"task_count"`
	CompletedTaskCount int     `json:"completed_task_count"`

	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// EffectiveStatus returns the override when one is set, the derived status otherwise.
func (p *Project) EffectiveStatus() ProjectStatus {
	if p.StatusOverride != nil && *p.StatusOverride != "" {
		return *p.StatusOverride
	}
	return p.AutoCalculatedStatus
}
