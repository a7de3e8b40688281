package auth

import "slices"

// Permission names a capability granted by role.
type Permission string

const (
	PermViewDefects      Permission = "view_defects"
	PermCreateDefects    Permission = "create_defects"
	PermUpdateOwnDefects Permission = "update_own_defects"
	PermUpdateDefects    Permission = "update_defects"
	PermDeleteDefects    Permission = "delete_defects"
	PermViewProjects     Permission = "view_projects"
	PermCreateProjects   Permission = "create_projects"
	PermUpdateProjects   Permission = "update_projects"
	PermDeleteProjects   Permission = "delete_projects"
	PermViewReports      Permission = "view_reports"
	PermManageUsers      Permission = "manage_users"
)

var rolePermissions = map[Role][]Permission{
	RoleEngineer: {PermViewDefects, PermCreateDefects, PermUpdateOwnDefects, PermViewProjects},
	RoleManager: {
		PermViewDefects, PermCreateDefects, PermUpdateDefects, PermDeleteDefects,
		PermViewProjects, PermCreateProjects, PermUpdateProjects, PermDeleteProjects,
		PermViewReports, PermManageUsers,
	},
	RoleObserver: {PermViewDefects, PermViewProjects, PermViewReports},
}

// PermissionsFor returns a copy of the permission set of role.
func PermissionsFor(role Role) []Permission {
	return slices.Clone(rolePermissions[role])
}

// HasPermission reports whether u holds perm. A nil user holds nothing.
func HasPermission(u *User, perm Permission) bool {
	if u == nil {
		return false
	}
	return slices.Contains(rolePermissions[u.Role], perm)
}

// Assignable is implemented by records that may be assigned to a user.
type Assignable interface {
	Assignee() (int64, bool)
}

// CanEditDefect: managers always, engineers only when they are the assignee.
func CanEditDefect(u *User, d Assignable) bool {
	if u == nil {
		return false
	}
	switch u.Role {
	case RoleManager:
		return true
	case RoleEngineer:
		if d == nil {
			return false
		}
		id, ok := d.Assignee()
		return ok && id == u.ID
	}
	return false
}

func CanDeleteDefect(u *User, _ Assignable) bool { return isManager(u) }

// CanEditProject has no ownership carve-out, unlike defects.
func CanEditProject(u *User) bool { return isManager(u) }

func CanDeleteProject(u *User) bool { return isManager(u) }

func isManager(u *User) bool {
	return u != nil && u.Role == RoleManager
}
