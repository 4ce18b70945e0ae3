package live

import "strings"

// Role identifies which side of the classroom a connection belongs to.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
	RoleUnknown Role = "unknown"
)

// ParseRole maps a wire-level role string onto a known Role.
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "teacher":
		return RoleTeacher
	case "student":
		return RoleStudent
	default:
		return RoleUnknown
	}
}
