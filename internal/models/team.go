package models

// Team groups users so tasks can be assigned to all of them at once.
type Team struct {
	BaseModel

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	TeamLeadID string `gorm:"type:uuid" json:"team_lead_id,omitempty"`

	Members []User `gorm:"many2many:user_teams;" json:"members,omitempty"`
}
