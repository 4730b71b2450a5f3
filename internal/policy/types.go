package policy

import "github.com/davidahmann/steward/pkg/types"

// Policy is the governance configuration: who may do what, which flows need
// a human override, and which signals pause which actions.
type Policy struct {
	PolicyID           string                      `yaml:"policy_id"`
	PolicyVersion      string                      `yaml:"policy_version"`
	Roles              map[types.Role][]string     `yaml:"roles"`
	Actions            map[string]ActionSpec       `yaml:"actions"`
	Flows              map[types.FlowType]FlowSpec `yaml:"flows"`
	OverrideMandatory  []string                    `yaml:"override_mandatory"`
	OverrideTTLSeconds int                         `yaml:"override_ttl_seconds"`
	OverrideApprovers  []string                    `yaml:"override_approvers"`
	CouncilMembers     []string                    `yaml:"council_members"`
	WatchSets          map[string][]string         `yaml:"watch_sets"`
	TierRestrictions   []TierRestriction           `yaml:"tier_restrictions"`
	RateLimit          RateLimitSpec               `yaml:"rate_limit"`
}

type ActionSpec struct {
	FlowType    types.FlowType `yaml:"flow_type"`
	RiskProfile string         `yaml:"risk_profile"`
	Path        string         `yaml:"path"`
}

type FlowSpec struct {
	FeeBps int `yaml:"fee_bps"`
}

type TierRestriction struct {
	Tier     string         `yaml:"tier"`
	FlowType types.FlowType `yaml:"flow_type"`
	Reason   string         `yaml:"reason"`
}

type RateLimitSpec struct {
	Capacity int `yaml:"capacity"`
	WindowMS int `yaml:"window_ms"`
}
