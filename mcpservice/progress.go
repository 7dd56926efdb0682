package mcpservice

import "context"

// ProgressReporter reports progress of a long-running tool invocation. The
// engine installs one in the invocation context when the caller supplied a
// progress token.
type ProgressReporter interface {
	Report(ctx context.Context, progress, total float64) error
}

// ProgressFunc adapts a function to ProgressReporter.
type ProgressFunc func(ctx context.Context, progress, total float64) error

func (f ProgressFunc) Report(ctx context.Context, progress, total float64) error {
	return f(ctx, progress, total)
}

type progressKey struct{}

// WithProgressReporter returns a new context carrying the provided reporter.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves a ProgressReporter from the context if present.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	pr, ok := ctx.Value(progressKey{}).(ProgressReporter)
	return pr, ok && pr != nil
}
