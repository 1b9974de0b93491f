package models

// ContextKey is a string type used in context.WithValue
type ContextKey string

func (c ContextKey) String() string {
	return string(c)
}

// Context keys set by the auth middleware
const (
	UserIDKey    ContextKey = "user_id"
	UserEmailKey ContextKey = "user_email"
	UserRoleKey  ContextKey = "user_role"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Actor is the authenticated caller of an escrow operation
type Actor struct {
	ID   string
	Role string
}

// IsAdmin ...
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
