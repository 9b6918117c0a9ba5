package models

// Role values. The role decides transaction visibility: admin and manager
// see every record, user only its own.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

func ValidRole(r string) bool {
	return r == RoleAdmin || r == RoleManager || r == RoleUser
}

// Privileged reports whether a role grants cross-user visibility.
func Privileged(r string) bool {
	return r == RoleAdmin || r == RoleManager
}
