package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/davidahmann/steward/pkg/types"
)

var ErrInvalidPolicy = errors.New("invalid policy")

// Validate checks the policy exhaustively: every known role is configured,
// every permission names a configured action, and every action, flow,
// category and watch set reference resolves.
func (p Policy) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.PolicyID == "" {
		add("policy_id is required")
	}
	if p.PolicyVersion == "" {
		add("policy_version is required")
	}

	for _, role := range types.KnownRoles() {
		if _, ok := p.Roles[role]; !ok {
			add("role %s has no permission set", role)
		}
	}
	for _, role := range sortedRoles(p.Roles) {
		if !role.Known() {
			add("unknown role %s", role)
			continue
		}
		for _, action := range p.Roles[role] {
			if _, ok := p.Actions[action]; !ok {
				add("role %s grants unknown action %s", role, action)
			}
		}
	}

	for _, name := range sortedKeys(p.Actions) {
		spec := p.Actions[name]
		if !spec.FlowType.Valid() {
			add("action %s has invalid flow_type %q", name, spec.FlowType)
		}
		if spec.RiskProfile != "" {
			if _, ok := p.WatchSets[spec.RiskProfile]; !ok {
				add("action %s references unknown risk_profile %s", name, spec.RiskProfile)
			}
		}
	}

	for flow, spec := range p.Flows {
		if !flow.Valid() {
			add("flows: invalid flow type %q", flow)
		}
		if spec.FeeBps < 0 || spec.FeeBps > 10000 {
			add("flows: %s fee_bps must be within 0..10000", flow)
		}
	}

	for _, category := range p.OverrideMandatory {
		if !types.ValidCategory(category) {
			add("override_mandatory: unknown category %s", category)
		}
	}
	if p.OverrideTTLSeconds < 0 {
		add("override_ttl_seconds must not be negative")
	}

	for profile, tags := range p.WatchSets {
		if len(tags) == 0 {
			add("watch_sets: %s is empty", profile)
		}
	}

	for i, r := range p.TierRestrictions {
		if r.Tier == "" {
			add("tier_restrictions[%d]: tier is required", i)
		}
		if !r.FlowType.Valid() {
			add("tier_restrictions[%d]: invalid flow_type %q", i, r.FlowType)
		}
	}

	if p.RateLimit.Capacity <= 0 {
		add("rate_limit.capacity must be positive")
	}
	if p.RateLimit.WindowMS <= 0 {
		add("rate_limit.window_ms must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(errs...))
}

func sortedRoles(m map[types.Role][]string) []types.Role {
	out := make([]types.Role, 0, len(m))
	for role := range m {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
