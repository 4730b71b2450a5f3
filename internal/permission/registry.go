// Package permission resolves whether an agent role may perform an action.
package permission

import (
	"sort"
	"sync/atomic"

	"github.com/davidahmann/steward/internal/policy"
	"github.com/davidahmann/steward/pkg/types"
)

type snapshot struct {
	version string
	roles   map[types.Role]map[string]struct{}
}

// Registry is a read-mostly role → permission set table. Lookups never
// block; Load swaps the whole table at once.
type Registry struct {
	table atomic.Pointer[snapshot]
}

func NewRegistry(p policy.Policy) *Registry {
	r := &Registry{}
	r.Load(p)
	return r
}

// Load replaces the permission table. It is the only way configuration
// changes reach the registry.
func (r *Registry) Load(p policy.Policy) {
	next := &snapshot{
		version: p.PolicyVersion,
		roles:   make(map[types.Role]map[string]struct{}, len(p.Roles)),
	}
	for role, actions := range p.Roles {
		set := make(map[string]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		next.roles[role] = set
	}
	r.table.Store(next)
}

// Allows reports whether action is in role's permission set. Unknown roles
// and empty inputs are denied.
func (r *Registry) Allows(role types.Role, action string) bool {
	if role == "" || action == "" {
		return false
	}
	set, ok := r.current().roles[role]
	if !ok {
		return false
	}
	_, ok = set[action]
	return ok
}

// HasRole reports whether role has a configured permission set.
func (r *Registry) HasRole(role types.Role) bool {
	_, ok := r.current().roles[role]
	return ok
}

func (r *Registry) Actions(role types.Role) []string {
	set := r.current().roles[role]
	out := make([]string, 0, len(set))
	for action := range set {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Version() string {
	return r.current().version
}

func (r *Registry) current() *snapshot {
	if s := r.table.Load(); s != nil {
		return s
	}
	return &snapshot{}
}
