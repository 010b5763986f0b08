package types

import "github.com/m-mizutani/goerr/v2"

// KnowledgeKind represents a knowledge kind
type KnowledgeKind string

const (
	KnowledgeKindFAQ            KnowledgeKind = "faq"
	KnowledgeKindCaseStudy      KnowledgeKind = "case_study"
	KnowledgeKindProductInfo    KnowledgeKind = "product"
	KnowledgeKindSuccessPattern KnowledgeKind = "success_pattern"
)

// AllKnowledgeKinds returns all valid values of KnowledgeKind
func AllKnowledgeKinds() []KnowledgeKind {
	return []KnowledgeKind{
		KnowledgeKindFAQ,
		KnowledgeKindCaseStudy,
		KnowledgeKindProductInfo,
		KnowledgeKindSuccessPattern,
	}
}

// IsValid checks if the knowledge kind is valid
func (x KnowledgeKind) IsValid() bool {
	switch x {
	case KnowledgeKindFAQ,
		KnowledgeKindCaseStudy,
		KnowledgeKindProductInfo,
		KnowledgeKindSuccessPattern:
		return true
	default:
		return false
	}
}

// String returns the string representation of the value
func (x KnowledgeKind) String() string {
	return string(x)
}

// ParseKnowledgeKind parses a string into a KnowledgeKind
func ParseKnowledgeKind(s string) (KnowledgeKind, error) {
	v := KnowledgeKind(s)
	if !v.IsValid() {
		return "", goerr.New("invalid knowledge kind", goerr.V("value", s))
	}
	return v, nil
}
