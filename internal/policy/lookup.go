package policy

import (
	"fmt"
	"time"

	"github.com/davidahmann/steward/pkg/types"
)

func (p Policy) Action(name string) (ActionSpec, bool) {
	spec, ok := p.Actions[name]
	return spec, ok
}

// ActionNames lists every configured action in sorted order.
func (p Policy) ActionNames() []string {
	return sortedKeys(p.Actions)
}

func (p Policy) WatchSet(profile string) []string {
	return p.WatchSets[profile]
}

func (p Policy) FeeBps(flow types.FlowType) int {
	return p.Flows[flow].FeeBps
}

// TierRestriction returns the restriction that blocks tier from flow, if any.
func (p Policy) TierRestriction(tier string, flow types.FlowType) (TierRestriction, bool) {
	if tier == "" {
		return TierRestriction{}, false
	}
	for _, r := range p.TierRestrictions {
		if r.Tier != tier || r.FlowType != flow {
			continue
		}
		if r.Reason == "" {
			r.Reason = fmt.Sprintf("Access denied: Upgrade required for %s flows", flow)
		}
		return r, true
	}
	return TierRestriction{}, false
}

func (p Policy) OverrideTTL() time.Duration {
	return time.Duration(p.OverrideTTLSeconds) * time.Second
}

func (p Policy) RateWindow() time.Duration {
	return time.Duration(p.RateLimit.WindowMS) * time.Millisecond
}

func (p Policy) IsOverrideApprover(identity string) bool {
	return contains(p.OverrideApprovers, identity)
}

func (p Policy) IsCouncilMember(identity string) bool {
	return contains(p.CouncilMembers, identity)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
