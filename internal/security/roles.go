package security

import "strings"

// Role is a site-wide role carried in the access token and stored on the user.
type Role string

const (
	RoleGuest     Role = ""
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// ParseRole normalizes a stored or client supplied role. Unknown values
// degrade to RoleUser.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleModerator:
		return RoleModerator
	case RoleGuest:
		return RoleGuest
	default:
		return RoleUser
	}
}

// IsStaff reports whether the role carries site-wide moderation rights.
func (r Role) IsStaff() bool {
	return r == RoleModerator || r == RoleAdmin
}

func (r Role) String() string {
	if r == RoleGuest {
		return "guest"
	}
	return string(r)
}
