package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleCitizen  = "citizen"
	RoleOfficial = "official"

	// AccessRoleAdmin may create official accounts.
	AccessRoleAdmin       = "admin"
	AccessRoleOperational = "operational"

	DepartmentGeneral = "general"
)

type User struct {
	ID         string         `gorm:"type:uuid;primaryKey" json:"id"`
	Email      string         `gorm:"uniqueIndex;not null" json:"email"`
	Password   string         `gorm:"not null" json:"-"`
	Name       string         `gorm:"not null" json:"name"`
	Role       string         `gorm:"default:'citizen';index" json:"role"`
	Department string         `gorm:"default:'general'" json:"department"`
	AccessRole string         `gorm:"default:'operational'" json:"access_role"`
	Phone      string         `json:"phone,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

func (u *User) IsOfficial() bool { return u.Role == RoleOfficial }
