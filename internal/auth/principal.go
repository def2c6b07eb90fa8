package auth

import (
	"fmt"
	"strings"
)

// Role is the persisted role bitmask. Bit positions are part of the client
// contract and must not change.
type Role int

const (
	RoleSubscriber Role = 1 << iota
	RolePublisher
	RoleTaskAdmin
	RoleUserAdmin
	RoleSiteAdmin
)

var roleNames = []struct {
	role Role
	name string
}{
	{RoleSubscriber, "SUBSCRIBER"},
	{RolePublisher, "PUBLISHER"},
	{RoleTaskAdmin, "TASK_ADMIN"},
	{RoleUserAdmin, "USER_ADMIN"},
	{RoleSiteAdmin, "SITE_ADMIN"},
}

// Has reports whether every bit of want is set.
func (r Role) Has(want Role) bool {
	return want != 0 && r&want == want
}

// HasAny reports whether at least one bit of want is set.
func (r Role) HasAny(want Role) bool {
	return r&want != 0
}

func (r Role) String() string {
	var names []string
	for _, rn := range roleNames {
		if r&rn.role != 0 {
			names = append(names, rn.name)
		}
	}
	return strings.Join(names, "|")
}

// ParseRoles ORs together role names such as "PUBLISHER".
func ParseRoles(names []string) (Role, error) {
	var r Role
	for _, n := range names {
		found := false
		for _, rn := range roleNames {
			if strings.EqualFold(n, rn.name) {
				r |= rn.role
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown role %q", n)
		}
	}
	return r, nil
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	UID  string
	Role Role
}

// Is reports whether the principal is the user with the given id. A nil
// principal is nobody.
func (p *Principal) Is(uid string) bool {
	return p != nil && uid != "" && p.UID == uid
}

// HasRole is nil-safe.
func (p *Principal) HasRole(want Role) bool {
	return p != nil && p.Role.Has(want)
}

// HasAnyRole is nil-safe.
func (p *Principal) HasAnyRole(want Role) bool {
	return p != nil && p.Role.HasAny(want)
}
