package auth

import (
	"fmt"
	"strings"
)

// Role is one of the two account kinds.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// ParseRole accepts any casing of a known role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return r, nil
}

// Principal is the authenticated identity bound to one request.
// Fields are unexported so a bound principal cannot be partially rewritten.
type Principal struct {
	role Role
	id   int64
}

// NewPrincipal builds a principal. It is only produced by the resolver and by tests.
func NewPrincipal(role Role, id int64) Principal {
	return Principal{role: role, id: id}
}

func (p Principal) Role() Role { return p.role }
func (p Principal) ID() int64 { return p.id }
func (p Principal) IsZero() bool { return p.role == "" && p.id == 0 }

// Is reports whether p is exactly the identity (role, id).
func (p Principal) Is(role Role, id int64) bool {
	return p.role == role && p.id == id
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%d", p.role, p.id)
}
