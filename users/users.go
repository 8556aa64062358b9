package users

import (
	"fmt"
	"strings"
)

// RoleType is the back-office staff level carried in the StAdmin column.
type RoleType string

const (
	RoleAdmin   RoleType = "1" // System administrator
	RoleSales   RoleType = "2" // Sales staff
	RoleGeneral RoleType = "3" // General staff
)

// Profile is the user row returned by the login endpoint. The backend sends
// a loosely typed record (column names such as Login, Name, Code, StAdmin),
// so the profile is kept as decoded JSON rather than a fixed struct.
type Profile map[string]any

// Username returns the name sent with refresh requests: Login, falling back to Name.
func (p Profile) Username() string {
	if v := p.String("Login"); v != "" {
		return v
	}
	return p.String("Name")
}

// String returns the named field as a string, or "" when absent.
func (p Profile) String(field string) string {
	v, ok := p[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return fmt.Sprint(v)
}

func (p Profile) Role() RoleType {
	return RoleType(p.String("StAdmin"))
}

// RoleName returns a display label for the profile's staff level.
func (p Profile) RoleName() string {
	switch p.Role() {
	case RoleAdmin:
		return "administrator"
	case RoleSales:
		return "sales"
	case RoleGeneral:
		return "staff"
	default:
		return "user"
	}
}

// Merge returns a copy of p with fields overlaid.
func (p Profile) Merge(fields map[string]any) Profile {
	merged := make(Profile, len(p)+len(fields))
	for k, v := range p {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
