package auth

import (
	"context"
	"strings"
)

const (
	RoleEmployee = "Employee"
	RoleHR       = "HR"
)

const (
	PermLeaveRead   = "leave.read"
	PermLeaveWrite  = "leave.write"
	PermLeaveReview = "leave.review"
)

var DefaultPermissions = []string{
	PermLeaveRead,
	PermLeaveWrite,
	PermLeaveReview,
}

var RolePermissions = map[string][]string{
	RoleEmployee: {
		PermLeaveRead,
		PermLeaveWrite,
	},
	RoleHR: {
		PermLeaveRead,
		PermLeaveWrite,
		PermLeaveReview,
	},
}

// NormalizeRole maps case variants ("hr", "employee") onto the canonical names.
func NormalizeRole(role string) string {
	for known := range RolePermissions {
		if strings.EqualFold(strings.TrimSpace(role), known) {
			return known
		}
	}
	return ""
}

// StaticPermissions answers permission checks from RolePermissions.
type StaticPermissions struct{}

func (StaticPermissions) HasPermission(ctx context.Context, roleName, permission string) (bool, error) {
	for _, perm := range RolePermissions[roleName] {
		if perm == permission {
			return true, nil
		}
	}
	return false, nil
}
