package errutil

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// Handle logs the error with a message and forwards it to Sentry when a
// Sentry client is initialized. goerr values and stack traces are kept as
// structured log attributes so the failing unit can be reproduced.
func Handle(ctx context.Context, err error, msg string) {
	if err == nil {
		return
	}

	logger := logging.From(ctx)

	var ge *goerr.Error
	if errors.As(err, &ge) {
		logger.Error(msg,
			"error", err.Error(),
			"values", ge.Values(),
			"stack", ge.Stacks(),
		)
	} else {
		logger.Error(msg, "error", err.Error())
	}

	if hub := sentry.CurrentHub(); hub.Client() != nil {
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("message", msg)
			if ge != nil {
				scope.SetContext("values", sentry.Context(ge.Values()))
			}
			hub.CaptureException(err)
		})
	}
}

// Flush waits for buffered Sentry events to be delivered
func Flush(timeout time.Duration) {
	if sentry.CurrentHub().Client() != nil {
		sentry.Flush(timeout)
	}
}
