package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"querycanvas/internal/logging"
)

// StopReason says why WaitForStop returned.
type StopReason string

const (
	StopSignal      StopReason = "signal"
	StopServerError StopReason = "server_error"
)

// ErrNotInitialized is returned by Start before Init has succeeded.
var ErrNotInitialized = errors.New("app is not initialized")

// Start launches the HTTP listener. Calling it again returns the same error
// channel.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, ErrNotInitialized
	}
	if !a.started {
		a.serverErrors = startServer(a.cfg, a.logger, a.srv, a.serverAddr)
		a.started = true
	}
	return a.serverErrors, nil
}

// WaitForStop blocks until ctx is done (normally via signal.NotifyContext) or
// the listener fails. A nil serverErrors falls back to the channel from Start.
func (a *App) WaitForStop(ctx context.Context, serverErrors <-chan error) (StopReason, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}
	if ctx == nil && serverErrors == nil {
		return "", errors.New("nothing to wait on")
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("listener closed")
		}
		return StopServerError, fmt.Errorf("server failed: %w", err)
	case <-done:
		a.logger.Info("stop requested", slog.String("cause", context.Cause(ctx).Error()))
		return StopSignal, nil
	}
}

// Shutdown releases resources in reverse order of acquisition. Only the first
// call does any work; later calls return the first call's result.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		stack := a.cleanup
		store := a.store
		a.started = false
		a.stateMu.Unlock()

		if store != nil {
			a.logger.Info("closing builder sessions", slog.Int("live", store.Len()))
		}
		a.shutdownErr = stack.run(ctx, a.logger)
	})
	return a.shutdownErr
}

// cleanupStack holds release functions; run pops them LIFO.
type cleanupStack struct {
	steps []cleanupStep
}

type cleanupStep struct {
	name string
	fn   func(context.Context) error
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.steps = append(s.steps, cleanupStep{name: name, fn: fn})
}

// run executes every step even when earlier ones fail and joins the errors.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if logger != nil {
			logger.Debug("releasing", slog.String("component", step.name))
		}
		if err := step.fn(ctx); err != nil {
			if logger != nil {
				logger.Warn("cleanup failed",
					slog.String("component", step.name),
					slog.String("error", err.Error()),
				)
			}
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	s.steps = nil
	return errors.Join(errs...)
}
