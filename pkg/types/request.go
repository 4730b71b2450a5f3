package types

import "time"

type Role string

const (
	RoleFinanceAgent  Role = "finance-agent"
	RoleAdminAgent    Role = "admin-agent"
	RoleOutreachAgent Role = "outreach-agent"
	RoleLearningAgent Role = "learning-agent"
)

// KnownRoles lists every role the gateway recognizes. A policy must
// configure each of them.
func KnownRoles() []Role {
	return []Role{RoleFinanceAgent, RoleAdminAgent, RoleOutreachAgent, RoleLearningAgent}
}

func (r Role) Known() bool {
	for _, known := range KnownRoles() {
		if r == known {
			return true
		}
	}
	return false
}

// ActionRequest is one agent call into the gate. It is never persisted.
type ActionRequest struct {
	RequestID   string            `json:"request_id"`
	ActorID     string            `json:"actor_id"`
	ActorRole   Role              `json:"actor_role"`
	Action      string            `json:"action"`
	ActionID    string            `json:"action_id,omitempty"`
	TargetID    string            `json:"target_id,omitempty"`
	FlowType    FlowType          `json:"flow_type,omitempty"`
	UserTier    string            `json:"user_tier,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}
