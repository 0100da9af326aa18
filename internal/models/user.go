package models

import (
	"time"
)

// User is an entry of the known-users directory.
type User struct {
	Base
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Image        string    `json:"image,omitempty"`
	Role         Role      `json:"role"`
	City         string    `json:"city,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Actor returns the identity this user authenticates as.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Role: u.Role}
}
