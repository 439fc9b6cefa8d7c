// Package worker manages the lifecycle of long running goroutines such as the simulator's
// receive loop and the daemon's publishers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-vna/logger"
)

// Func is run repeatedly by the Manager. It returns false to stop its goroutine.
type Func func(ctx context.Context) bool

// CancelFunc is called when a goroutine managed by the Manager exits.
type CancelFunc func()

// Manager starts, stops and waits for named goroutines.
//
// Example Usage:
//
//	mgr := worker.NewManager(ctx, logger)
//	_ = mgr.Start("receiver", func(ctx context.Context) bool {
//	    // ... one iteration ...
//	    return true
//	}, nil)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
}

// NewManager creates a Manager using ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn in a loop on a new goroutine until it returns false or the manager stops.
// onExit, if not nil, is called when the goroutine exits.
func (mgr *Manager) Start(name string, fn Func, onExit CancelFunc) error {
	ctx := mgr.getContext()
	if ctx.Err() != nil {
		return fmt.Errorf("worker manager already stopped, cannot start %s", name)
	}

	mgr.logger.Debug("start worker", "name", name)
	mgr.launch(name, func() {
		if onExit != nil {
			defer onExit()
		}

		for ctx.Err() == nil {
			if !mgr.callWithRecover(name, ctx, fn) {
				return
			}
		}
	})

	return nil
}

// StartInterval runs fn every interval until it returns false or the manager stops.
// If runNow is true, fn is also run immediately.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %v", interval)
	}
	ctx := mgr.getContext()
	if ctx.Err() != nil {
		return fmt.Errorf("worker manager already stopped, cannot start %s", name)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return fmt.Errorf("interval worker %s already exists", name)
	}

	mgr.logger.Debug("start interval worker", "name", name, "interval", interval, "runNow", runNow)
	mgr.launch(name, func() {
		defer func() {
			ticker.Stop()
			mgr.tickers.Delete(name)
		}()

		if runNow && !mgr.callWithRecover(name, ctx, fn) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, ctx, fn) {
					return
				}
			}
		}
	})

	return nil
}

func (mgr *Manager) launch(name string, body func()) {
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("worker terminated", "name", name, "worker_count", mgr.Count())
		}()

		body()
	}()
}

// callWithRecover calls fn with panic protection. A panicking worker stops.
func (mgr *Manager) callWithRecover(name string, ctx context.Context, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in worker", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn(ctx)
}

// Stop signals all running goroutines to exit.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	mgr.cancel()
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to exit, then makes the manager usable again.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// Count returns the number of running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}
