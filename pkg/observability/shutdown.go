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

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops HTTP servers first, then runs registered cleanup in reverse order
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	servers []*http.Server
	funcs   []ShutdownFunc
}

// NewShutdownManager creates a shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// AddServer registers an HTTP server to drain on shutdown
func (sm *ShutdownManager) AddServer(server *http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, server)
}

// RegisterShutdownFunc registers cleanup to run after servers have drained
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)
	case <-ctx.Done():
		sm.logger.Info("Context cancelled, starting graceful shutdown")
	}

	return sm.Shutdown()
}

// Shutdown drains servers and runs cleanup within the configured timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	servers := append([]*http.Server(nil), sm.servers...)
	funcs := append([]ShutdownFunc(nil), sm.funcs...)
	sm.mu.Unlock()

	var errs []error
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Errorf("HTTP server %s shutdown error", server.Addr)
			errs = append(errs, fmt.Errorf("server %s: %w", server.Addr, err))
		}
	}

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown function %d failed", i)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
