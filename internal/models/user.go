package models

// User describes an account that can own, work on, and observe tasks.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	FullName string `json:"full_name"`
	Avatar   string `json:"avatar,omitempty"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	Teams []Team `gorm:"many2many:user_teams;" json:"teams,omitempty"`
}
