package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProfileAdmin   = "admin"
	ProfileCashier = "cashier"
	ProfileViewer  = "viewer"
)

// Profile groups permissions. Profiles are global; users of every tenant
// pick from the same seeded set.
type Profile struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	Name        string         `gorm:"uniqueIndex;size:100;not null" json:"name"`
	Description string         `gorm:"size:500" json:"description,omitempty"`
	IsSystem    bool           `gorm:"default:false" json:"is_system"`
	Permissions []Permission   `gorm:"many2many:profile_permissions;" json:"permissions,omitempty"`
}

// Permission allows one action on one resource type ("sale:close").
type Permission struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	ResourceType string    `gorm:"size:50;not null;uniqueIndex:ux_perm_resource_action,priority:1" json:"resource_type"`
	Action       string    `gorm:"size:50;not null;uniqueIndex:ux_perm_resource_action,priority:2" json:"action"`
	Description  string    `gorm:"size:200" json:"description,omitempty"`
}

func (p Permission) Code() string {
	return p.ResourceType + ":" + p.Action
}
