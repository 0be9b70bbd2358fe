package models

// Role is the coarse role carried by a caller identity.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleManager      Role = "manager"
	RoleVeterinarian Role = "veterinarian"
	RoleEmployee     Role = "employee"
	RoleViewer       Role = "viewer"
	RoleSystem       Role = "system"
)

// Principal is the opaque caller identity used for attribution fields.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemPrincipal identifies writes made by scheduled maintenance.
var SystemPrincipal = Principal{ID: "system:reconciler", Role: RoleSystem}
