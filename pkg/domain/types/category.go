package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// CategoryID identifies an inquiry category such as "marketing" or "tech".
// Categories are defined by the intake rule set, so the value space is open.
type CategoryID string

const (
	CategoryMarketing CategoryID = "marketing"
	CategoryTech      CategoryID = "tech"
	CategoryGeneral   CategoryID = "general"
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+([-_][a-z0-9]+)*$`)

// Validate checks if the CategoryID is valid
func (c CategoryID) Validate() error {
	if c == "" {
		return goerr.New("category ID cannot be empty")
	}
	if !idPattern.MatchString(string(c)) {
		return goerr.New("category ID must be lowercase alphanumeric with hyphens or underscores", goerr.V("id", c))
	}
	return nil
}

// String returns the string representation of CategoryID
func (c CategoryID) String() string {
	return string(c)
}

// FieldName identifies a piece of information collected from the customer
// during intake, e.g. "business_type" or "error_message".
type FieldName string

// Validate checks if the FieldName is valid
func (f FieldName) Validate() error {
	if f == "" {
		return goerr.New("field name cannot be empty")
	}
	if !idPattern.MatchString(string(f)) {
		return goerr.New("field name must be lowercase alphanumeric with hyphens or underscores", goerr.V("field", f))
	}
	return nil
}

func (f FieldName) String() string {
	return string(f)
}
