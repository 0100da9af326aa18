package models

import (
	"fmt"

	"eventmarket/server/internal/utils"
)

// Role is the closed set of actor kinds.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
	RoleBusiness Role = "business"
)

// ParseRole validates a role string coming from a token or the directory.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleProvider, RoleBusiness:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// CanOffer reports whether actors of this role may issue quotes.
func (r Role) CanOffer() bool {
	return r == RoleProvider || r == RoleBusiness
}

// Actor is the authenticated identity an operation runs as.
type Actor struct {
	ID   utils.SixID `json:"id"`
	Role Role        `json:"role"`
}
