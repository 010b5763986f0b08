package safe

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/secmon-lab/hermes/pkg/utils/logging"
)

// Close closes c and only logs a failure. A nil closer is ignored.
func Close(ctx context.Context, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logging.From(ctx).Warn("failed to close",
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.Any("error", err),
		)
	}
}
