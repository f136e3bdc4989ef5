package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource within the deadline on ctx.
type ShutdownFunc func(context.Context) error

// ShutdownManager drains the HTTP server first and then releases the
// registered resources last-in first-out, so the cache is closed before the
// database it fronts. Shutdown runs at most once.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	steps []shutdownStep

	once sync.Once
	err  error
}

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager uses a 30s deadline when timeout is zero. server may be nil.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, server: server, timeout: timeout}
}

func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	sm.steps = append(sm.steps, shutdownStep{name: name, fn: fn})
	sm.mu.Unlock()
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx is done, then runs
// Shutdown under a fresh deadline.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	sm.logger.Info("Draining warden")
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(ctx)
}

// Shutdown keeps going past failed steps and returns them joined.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.once.Do(func() { sm.err = sm.shutdown(ctx) })
	return sm.err
}

func (sm *ShutdownManager) shutdown(ctx context.Context) error {
	var errs []error
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}

	sm.mu.Lock()
	steps := append([]shutdownStep(nil), sm.steps...)
	sm.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		start := time.Now()
		err := steps[i].fn(ctx)
		log := sm.logger.WithField("step", steps[i].name).WithField("duration_ms", time.Since(start).Milliseconds())
		if err != nil {
			log.WithError(err).Error("Shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", steps[i].name, err))
			continue
		}
		log.Debug("Released")
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Shutdown complete")
	return nil
}
