// Package rbac decides whether a principal may perform a named action.
// Checks consume pre-resolved principal data and never touch the database.
package rbac

import (
	"strings"

	"github.com/ppdb-id/ppdb-backend/internal/model"
)

type Checker struct {
	rolePermissions map[model.Role][]string
}

func NewChecker(rp map[model.Role][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	return &Checker{rolePermissions: rp}
}

func (c *Checker) Has(role model.Role, perm string) bool {
	perms, ok := c.rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if matchPerm(p, perm) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role model.Role, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}

func matchPerm(pattern, perm string) bool {
	if pattern == "*" || pattern == perm {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(perm, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
