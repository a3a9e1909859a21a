package utils

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type ShutdownManager struct {
	cancelFunc    context.CancelFunc
	shutdownTasks []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	done          chan struct{}
}

func NewShutdownManager(ctx context.Context) (context.Context, *ShutdownManager) {
	ctx, cancel := context.WithCancel(ctx)
	return ctx, &ShutdownManager{
		cancelFunc: cancel,
		timeout:    15 * time.Second,
		done:       make(chan struct{}),
	}
}

func (sm *ShutdownManager) Register(task func(context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.shutdownTasks = append(sm.shutdownTasks, task)
}

// StartListening runs Shutdown on SIGINT or SIGTERM and exits the process.
func (sm *ShutdownManager) StartListening() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("[SHUTDOWN] Received signal: %v", sig)
		sm.Shutdown()
		os.Exit(0)
	}()
}

// Shutdown cancels the root context and runs registered tasks, last registered first.
func (sm *ShutdownManager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	select {
	case <-sm.done:
		return
	default:
	}
	sm.cancelFunc()

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	for i := len(sm.shutdownTasks) - 1; i >= 0; i-- {
		if err := sm.shutdownTasks[i](ctx); err != nil {
			log.Printf("[SHUTDOWN] Error during shutdown: %v", err)
		}
	}
	close(sm.done)
	log.Println("[SHUTDOWN] Graceful shutdown complete")
}

// Done is closed once Shutdown has finished.
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}
