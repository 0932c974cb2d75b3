package services

// Role is a per-operation access level with a total privilege order:
// creator > admin > collaborator > viewer. An empty Role ranks below viewer.
type Role string

const (
	RoleNone         Role = ""
	RoleViewer       Role = "viewer"
	RoleCollaborator Role = "collaborator"
	RoleAdmin        Role = "admin"
	RoleCreator      Role = "creator"
)

var roleRank = map[Role]int{
	RoleNone:         0,
	RoleViewer:       1,
	RoleCollaborator: 2,
	RoleAdmin:        3,
	RoleCreator:      4,
}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	switch r {
	case RoleViewer, RoleCollaborator, RoleAdmin, RoleCreator:
		return true
	}
	return false
}

// Rank returns the position of r in the privilege order.
func (r Role) Rank() int { return roleRank[r] }

// AtLeast reports whether r holds at least the privilege of min.
func (r Role) AtLeast(min Role) bool { return r.Rank() >= min.Rank() }

// MaxRole returns the higher-privileged of two roles.
func MaxRole(a, b Role) Role {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Capabilities is the capability table of a role, evaluated uniformly by the
// permission service.
type Capabilities struct {
	CanView          bool
	CanEdit          bool // commit waypoints, checkout, chat
	CanManageMembers bool
	CanArchive       bool
	CanDelete        bool
}

var roleCapabilities = map[Role]Capabilities{
	RoleViewer:       {CanView: true},
	RoleCollaborator: {CanView: true, CanEdit: true},
	RoleAdmin:        {CanView: true, CanEdit: true, CanManageMembers: true, CanArchive: true},
	RoleCreator:      {CanView: true, CanEdit: true, CanManageMembers: true, CanArchive: true, CanDelete: true},
}

// Capabilities returns the capability table entry for r. Unknown roles get
// the zero value.
func (r Role) Capabilities() Capabilities {
	return roleCapabilities[r]
}
