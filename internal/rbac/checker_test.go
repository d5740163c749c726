package rbac

import (
	"testing"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

func TestRoleMatrix(t *testing.T) {
	c := NewChecker(nil)
	cases := []struct {
		role model.Role
		perm string
		want bool
	}{
		{model.RoleSuperAdmin, PermSchoolsManage, true},
		{model.RoleSuperAdmin, PermSelectionRun, true},
		{model.RoleSchoolAdmin, PermSchoolsManage, false},
		{model.RoleSchoolAdmin, PermPeriodsManage, true},
		{model.RoleSchoolAdmin, PermRegistrationsVerify, true},
		{model.RoleSchoolAdmin, PermRegistrationsCreate, false},
		{model.RoleParent, PermRegistrationsCreate, true},
		{model.RoleParent, PermRegistrationsOwn, true},
		{model.RoleParent, PermRegistrationsAll, false},
		{model.RoleParent, PermSelectionRun, false},
		{model.Role("unknown"), PermProfileManage, false},
	}
	for _, tc := range cases {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Errorf("Has(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestWildcardMatching(t *testing.T) {
	c := NewChecker(map[model.Role][]string{
		"auditor": {"registrations:*"},
	})
	if !c.Has("auditor", PermRegistrationsAll) {
		t.Error("prefix wildcard must cover registrations:read-all")
	}
	if !c.Has("auditor", PermRegistrationsSubmit) {
		t.Error("prefix wildcard must cover registrations:submit")
	}
	if c.Has("auditor", PermPeriodsManage) {
		t.Error("prefix wildcard must not leak outside its prefix")
	}
}

func TestAny(t *testing.T) {
	c := NewChecker(nil)
	if !c.Any(model.RoleParent, PermSelectionRun, PermRegistrationsOwn) {
		t.Error("Any must succeed when one permission matches")
	}
	if c.Any(model.RoleParent, PermSelectionRun, PermSchoolsManage) {
		t.Error("Any must fail when none match")
	}
}
