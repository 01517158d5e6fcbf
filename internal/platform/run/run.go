package run

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type Runner struct {
	Logger *zap.Logger
	// Grace bounds how long start may take to return after a signal.
	Grace time.Duration
}

func New(log *zap.Logger) *Runner {
	return &Runner{Logger: log, Grace: 15 * time.Second}
}

// WithSignals runs start until it returns or SIGINT/SIGTERM arrives. On a
// signal the context passed to start is canceled and start gets Grace to
// finish. It returns the process exit code.
func (r *Runner) WithSignals(start func(ctx context.Context) error) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return r.run(ctx, start)
}

func (r *Runner) run(ctx context.Context, start func(ctx context.Context) error) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- start(ctx)
	}()

	select {
	case <-ctx.Done():
		r.Logger.Info("shutdown signal received")
		select {
		case err := <-errCh:
			return r.code(err)
		case <-time.After(r.Grace):
			r.Logger.Error("shutdown timed out", zap.Duration("grace", r.Grace))
			return 1
		}
	case err := <-errCh:
		return r.code(err)
	}
}

func (r *Runner) code(err error) int {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return 0
	}
	r.Logger.Error("service exited with error", zap.Error(err))
	return 1
}

func Exit(code int) {
	os.Exit(code)
}
