package types

import "fmt"

type FlowType string

const (
	FlowBasic           FlowType = "basic"
	FlowNegotiation     FlowType = "negotiation"
	FlowFinancial       FlowType = "financial"
	FlowRelationship    FlowType = "relationship"
	FlowCouncilApproved FlowType = "councilApproved"
)

// Override categories, one per flow type.
const (
	CategoryBasic           = "basic_flows"
	CategoryNegotiation     = "negotiation_flows"
	CategoryFinancial       = "financial_flows"
	CategoryRelationship    = "relationship_flows"
	CategoryCouncilApproved = "council_approved_flows"
)

func FlowTypes() []FlowType {
	return []FlowType{FlowBasic, FlowNegotiation, FlowFinancial, FlowRelationship, FlowCouncilApproved}
}

func (f FlowType) Valid() bool {
	switch f {
	case FlowBasic, FlowNegotiation, FlowFinancial, FlowRelationship, FlowCouncilApproved:
		return true
	default:
		return false
	}
}

// Category returns the override category for f, or "" for an unknown flow.
func (f FlowType) Category() string {
	switch f {
	case FlowBasic:
		return CategoryBasic
	case FlowNegotiation:
		return CategoryNegotiation
	case FlowFinancial:
		return CategoryFinancial
	case FlowRelationship:
		return CategoryRelationship
	case FlowCouncilApproved:
		return CategoryCouncilApproved
	default:
		return ""
	}
}

func ValidCategory(category string) bool {
	for _, f := range FlowTypes() {
		if f.Category() == category {
			return true
		}
	}
	return false
}

func ParseFlowType(s string) (FlowType, error) {
	f := FlowType(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown flow type: %q", s)
	}
	return f, nil
}
