package usecase

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

// Sentinel errors for use case layer
var (
	ErrConversationClosed  = goerr.New("conversation is already closed", goerr.T(model.TagInput))
	ErrEmptyMessage        = goerr.New("message content is empty", goerr.T(model.TagInput))
	ErrInvalidRole         = goerr.New("invalid message role", goerr.T(model.TagInput))
	ErrNotionNotConfigured = goerr.New("notion is not configured", goerr.T(model.TagInput))
)
