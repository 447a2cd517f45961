package domain

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type User struct {
	ID          string
	FullName    string
	Role        Role
	ProjectSite string
	CreatedAt   time.Time
}

type ProjectSite struct {
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}
