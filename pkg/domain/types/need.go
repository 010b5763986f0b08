package types

import "github.com/m-mizutani/goerr/v2"

// NeedType represents a need type
type NeedType string

const (
	NeedEfficiency     NeedType = "efficiency"
	NeedCostReduction  NeedType = "cost_reduction"
	NeedFeatureRequest NeedType = "feature_request"
	NeedIntegration    NeedType = "integration"
	NeedScalability    NeedType = "scalability"
	NeedUsability      NeedType = "usability"
	NeedOther          NeedType = "other"
)

// AllNeedTypes returns all valid values of NeedType
func AllNeedTypes() []NeedType {
	return []NeedType{
		NeedEfficiency,
		NeedCostReduction,
		NeedFeatureRequest,
		NeedIntegration,
		NeedScalability,
		NeedUsability,
		NeedOther,
	}
}

// IsValid checks if the need type is valid
func (x NeedType) IsValid() bool {
	switch x {
	case NeedEfficiency,
		NeedCostReduction,
		NeedFeatureRequest,
		NeedIntegration,
		NeedScalability,
		NeedUsability,
		NeedOther:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x NeedType) String() string {
	return string(x)
}

// ParseNeedType parses a string into a NeedType
func ParseNeedType(s string) (NeedType, error) {
	v := NeedType(s)
	if !v.IsValid() {
		return "", goerr.New("invalid need type", goerr.V("value", s))
	}
	return v, nil
}

// Priority represents a priority
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// AllPriorities returns all valid values of Priority
func AllPriorities() []Priority {
	return []Priority{
		PriorityLow,
		PriorityMedium,
		PriorityHigh,
	}
}

// IsValid checks if the priority is valid
func (x Priority) IsValid() bool {
	switch x {
	case PriorityLow,
		PriorityMedium,
		PriorityHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x Priority) String() string {
	return string(x)
}

// ParsePriority parses a string into a Priority
func ParsePriority(s string) (Priority, error) {
	v := Priority(s)
	if !v.IsValid() {
		return "", goerr.New("invalid priority", goerr.V("value", s))
	}
	return v, nil
}
// Rank returns ordering weight of the priority. Higher is more important.
func (x Priority) Rank() int {
	switch x {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}
