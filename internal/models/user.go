package models

import "time"

// User is a staff account. Every user belongs to exactly one tenant and
// carries one permission profile (admin, cashier, viewer).
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Email     string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string    `gorm:"size:255" json:"name,omitempty"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	TenantID  string    `gorm:"size:64;not null;index" json:"tenant_id"`
	ProfileID *uint     `gorm:"index" json:"profile_id,omitempty"`
	Profile   *Profile  `gorm:"foreignKey:ProfileID" json:"profile,omitempty"`
}

func (u *User) GetTenantID() string { return u.TenantID }

// Role is the name of the user's profile, or "" when none is assigned.
func (u *User) Role() string {
	if u.Profile == nil {
		return ""
	}
	return u.Profile.Name
}
