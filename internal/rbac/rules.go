package rbac

import "github.com/ppdb-id/ppdb-backend/internal/model"

// Named permissions. Handlers check these, never the role itself, so this
// table is the single place where access rules live.
const (
	PermSchoolsManage       = "schools:manage"
	PermUsersManage         = "users:manage"
	PermProfileManage       = "profile:manage"
	PermPeriodsManage       = "periods:manage"
	PermRegistrationsCreate = "registrations:create"
	PermRegistrationsSubmit = "registrations:submit"
	PermRegistrationsVerify = "registrations:verify"
	PermSelectionRun        = "selection:run"
	PermRegistrationsAll    = "registrations:read-all"
	PermRegistrationsOwn    = "registrations:read-own"
)

// RolePermissions mirrors the access matrix. school_admin grants apply only
// inside the caller's tenant; the store scope enforces that part.
var RolePermissions = map[model.Role][]string{
	model.RoleSuperAdmin: {
		"*",
	},
	model.RoleSchoolAdmin: {
		PermUsersManage,
		PermProfileManage,
		PermPeriodsManage,
		PermRegistrationsVerify,
		PermSelectionRun,
		PermRegistrationsAll,
	},
	model.RoleParent: {
		PermProfileManage,
		PermRegistrationsCreate,
		PermRegistrationsSubmit,
		PermRegistrationsOwn,
	},
}
