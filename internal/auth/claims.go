package auth

import (
	"strings"
	"time"
)

// Role separates merchants from affiliates.
type Role string

const (
	RoleBrand   Role = "BRAND"
	RoleCreator Role = "CREATOR"
)

// ParseRole accepts roles case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleBrand:
		return RoleBrand, true
	case RoleCreator:
		return RoleCreator, true
	default:
		return "", false
	}
}

// Claims is the identity envelope propagated across HTTP/WS.
type Claims struct {
	UserID    string
	Role      Role
	Name      string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// Label is the human-facing handle of the user: name, else email.
func (c Claims) Label() string {
	if n := strings.TrimSpace(c.Name); n != "" {
		return n
	}
	return strings.TrimSpace(c.Email)
}
