package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/types"
)

// EmbeddingDimension is the dimension of the embedding vector
// Gemini text-embedding-004 uses 768 dimensions
const EmbeddingDimension = 768

// KnowledgeID identifies a KnowledgeEntry
type KnowledgeID string

// NewKnowledgeID generates a new UUID v4 KnowledgeID
func NewKnowledgeID() KnowledgeID {
	return KnowledgeID(uuid.New().String())
}

func (x KnowledgeID) String() string { return string(x) }

// FAQ is a question and its canonical answer
type FAQ struct {
	Question string
	Answer   string
}

// CaseStudy is a past problem with the solution applied to it
type CaseStudy struct {
	Problem  string
	Solution string
	Steps    []string
	Success  bool
}

// ProductInfo describes a product and its documentation
type ProductInfo struct {
	Name     string
	Features []string
	Docs     string
	URL      string
}

// SuccessPattern is a conversation trace judged successful enough to be reused
type SuccessPattern struct {
	ConversationID ConversationID
	Score          int
	Summary        string
	Problem        string
}

// KnowledgeEntry is a closed tagged variant. Exactly one payload matching
// Kind is set. Entries are immutable once created; a newer entry supersedes
// an older one instead of updating it.
type KnowledgeEntry struct {
	ID             KnowledgeID
	Kind           types.KnowledgeKind
	Tags           []string
	Embedding      []float32
	SuccessScore   int // 0-100, meaningful for ranked variants
	ConversationID ConversationID
	CreatedAt      time.Time

	FAQ            *FAQ
	CaseStudy      *CaseStudy
	ProductInfo    *ProductInfo
	SuccessPattern *SuccessPattern
}

// Validate checks that the entry carries exactly the payload named by Kind
func (x *KnowledgeEntry) Validate() error {
	if x.ID == "" {
		return goerr.New("knowledge ID is required", goerr.T(TagInput))
	}
	if !x.Kind.IsValid() {
		return goerr.New("invalid knowledge kind", goerr.T(TagInput), goerr.V("kind", x.Kind))
	}
	if x.SuccessScore < 0 || x.SuccessScore > 100 {
		return goerr.New("success score must be between 0 and 100", goerr.T(TagInput), goerr.V("score", x.SuccessScore))
	}

	payloads := 0
	for _, set := range []bool{x.FAQ != nil, x.CaseStudy != nil, x.ProductInfo != nil, x.SuccessPattern != nil} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return goerr.New("knowledge entry must have exactly one payload", goerr.T(TagInput),
			goerr.V(KnowledgeIDKey, x.ID), goerr.V("payloads", payloads))
	}

	var matched bool
	switch x.Kind {
	case types.KnowledgeKindFAQ:
		matched = x.FAQ != nil && x.FAQ.Question != ""
	case types.KnowledgeKindCaseStudy:
		matched = x.CaseStudy != nil && x.CaseStudy.Problem != ""
	case types.KnowledgeKindProductInfo:
		matched = x.ProductInfo != nil && x.ProductInfo.Name != ""
	case types.KnowledgeKindSuccessPattern:
		matched = x.SuccessPattern != nil && x.SuccessPattern.ConversationID != ""
	}
	if !matched {
		return goerr.New("knowledge payload does not match kind", goerr.T(TagInput),
			goerr.V(KnowledgeIDKey, x.ID), goerr.V("kind", x.Kind))
	}
	return nil
}

// EmbeddingText returns the text that represents the entry in vector space
func (x *KnowledgeEntry) EmbeddingText() string {
	switch {
	case x.FAQ != nil:
		return x.FAQ.Question
	case x.CaseStudy != nil:
		return x.CaseStudy.Problem
	case x.ProductInfo != nil:
		if len(x.ProductInfo.Features) == 0 {
			return x.ProductInfo.Name
		}
		return x.ProductInfo.Name + " " + strings.Join(x.ProductInfo.Features, " ")
	case x.SuccessPattern != nil:
		if x.SuccessPattern.Problem != "" {
			return x.SuccessPattern.Problem
		}
		return x.SuccessPattern.Summary
	}
	return ""
}

// Title returns a short human readable label of the entry
func (x *KnowledgeEntry) Title() string {
	switch {
	case x.FAQ != nil:
		return x.FAQ.Question
	case x.CaseStudy != nil:
		return x.CaseStudy.Problem
	case x.ProductInfo != nil:
		return x.ProductInfo.Name
	case x.SuccessPattern != nil:
		return x.SuccessPattern.Problem
	}
	return ""
}

// Content returns the body used as retrieval context
func (x *KnowledgeEntry) Content() string {
	switch {
	case x.FAQ != nil:
		return x.FAQ.Answer
	case x.CaseStudy != nil:
		if len(x.CaseStudy.Steps) == 0 {
			return x.CaseStudy.Solution
		}
		return x.CaseStudy.Solution + "\n" + strings.Join(x.CaseStudy.Steps, "\n")
	case x.ProductInfo != nil:
		parts := []string{x.ProductInfo.Name}
		parts = append(parts, x.ProductInfo.Features...)
		if x.ProductInfo.Docs != "" {
			parts = append(parts, x.ProductInfo.Docs)
		}
		return strings.Join(parts, "\n")
	case x.SuccessPattern != nil:
		return x.SuccessPattern.Summary
	}
	return ""
}

// HasTag returns true if the entry carries the tag
func (x *KnowledgeEntry) HasTag(tag string) bool {
	for _, t := range x.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the entry
func (x *KnowledgeEntry) Copy() *KnowledgeEntry {
	if x == nil {
		return nil
	}
	c := *x
	c.Tags = append([]string(nil), x.Tags...)
	c.Embedding = append([]float32(nil), x.Embedding...)
	if x.FAQ != nil {
		v := *x.FAQ
		c.FAQ = &v
	}
	if x.CaseStudy != nil {
		v := *x.CaseStudy
		v.Steps = append([]string(nil), x.CaseStudy.Steps...)
		c.CaseStudy = &v
	}
	if x.ProductInfo != nil {
		v := *x.ProductInfo
		v.Features = append([]string(nil), x.ProductInfo.Features...)
		c.ProductInfo = &v
	}
	if x.SuccessPattern != nil {
		v := *x.SuccessPattern
		c.SuccessPattern = &v
	}
	return &c
}
