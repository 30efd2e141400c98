package corelog

import (
	"log/slog"
	"os"
)

// Default returns the core's baseline logger: structured JSON to stdout,
// passed through SanitizingHandler so callers never need to remember to
// scrub peer ids or key material by hand before logging them.
func Default() *slog.Logger {
	return slog.New(WrapHandler(slog.NewJSONHandler(os.Stdout, nil)))
}

// New wraps an arbitrary handler the same way, for callers that already
// have one configured (a test logger, a different sink).
func New(handler slog.Handler) *slog.Logger {
	return slog.New(WrapHandler(handler))
}
