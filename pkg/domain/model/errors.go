package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Error taxonomy. Every error surfaced by the engine carries one of these
// tags so that callers and the worker pool can decide how to react without
// string matching.
var (
	// TagInput marks invalid caller input. Never retried.
	TagInput = goerr.NewTag("input")
	// TagNotFound marks a missing conversation, message or record. Never retried.
	TagNotFound = goerr.NewTag("not_found")
	// TagExternal marks a failure of an external provider (embedding, completion, notification).
	TagExternal = goerr.NewTag("external")
	// TagParse marks malformed structured output from a completion call.
	TagParse = goerr.NewTag("parse")
	// TagConflict marks a lost compare-and-set race.
	TagConflict = goerr.NewTag("conflict")
)

// Repository errors shared by every backend
var (
	ErrNotFound        = goerr.New("not found", goerr.T(TagNotFound))
	ErrAlreadyExists   = goerr.New("already exists", goerr.T(TagConflict))
	ErrVersionConflict = goerr.New("version conflict", goerr.T(TagConflict))
)

// Context keys for error values
const (
	ConversationIDKey = "conversation_id"
	MessageIDKey      = "message_id"
	KnowledgeIDKey    = "knowledge_id"
	IndexKey          = "index"
)

// anyInChain reports whether match holds for err or any error it wraps
func anyInChain(err error, match func(error) bool) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if match(e) {
			return true
		}
	}
	return false
}

func isInput(e error) bool    { return goerr.HasTag(e, TagInput) }
func isNotFound(e error) bool { return goerr.HasTag(e, TagNotFound) }
func isExternal(e error) bool { return goerr.HasTag(e, TagExternal) }
func isParse(e error) bool    { return goerr.HasTag(e, TagParse) }
func isConflict(e error) bool { return goerr.HasTag(e, TagConflict) }

// IsInputError returns true if err or any error it wraps is tagged as input error
func IsInputError(err error) bool { return anyInChain(err, isInput) }

// IsNotFoundError returns true if err is a not-found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || anyInChain(err, isNotFound)
}

// IsExternalError returns true if err came from an external provider
func IsExternalError(err error) bool { return anyInChain(err, isExternal) }

// IsParseError returns true if err is a malformed-output error
func IsParseError(err error) bool { return anyInChain(err, isParse) }

// IsConflictError returns true if err is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrAlreadyExists) || anyInChain(err, isConflict)
}

// IsPermanent returns true if retrying the operation cannot succeed
func IsPermanent(err error) bool {
	return IsInputError(err) || IsNotFoundError(err) || IsParseError(err)
}
