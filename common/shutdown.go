package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ShutdownManager 按注册顺序的逆序执行清理函数
type ShutdownManager struct {
	mu       sync.Mutex
	timeout  time.Duration
	names    []string
	funcs    []func(context.Context) error
	finished bool
}

// NewShutdownManager 创建关闭管理器
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{timeout: timeout}
}

// Register 注册关闭函数；后注册的先执行（先关服务，再关连接）
func (sm *ShutdownManager) Register(name string, fn func() error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.names = append(sm.names, name)
	sm.funcs = append(sm.funcs, wrapShutdownFunc(name, fn))
}

// Hook 适配 hertz 的 OnShutdown 钩子签名
func (sm *ShutdownManager) Hook() func(ctx context.Context) {
	return func(ctx context.Context) {
		sm.Shutdown(ctx)
	}
}

// Shutdown 执行全部关闭函数，重复调用无副作用
func (sm *ShutdownManager) Shutdown(parent context.Context) {
	sm.mu.Lock()
	if sm.finished {
		sm.mu.Unlock()
		return
	}
	sm.finished = true
	funcs := append([]func(context.Context) error(nil), sm.funcs...)
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, sm.timeout)
	defer cancel()

	zap.L().Info("Starting graceful shutdown", zap.Int("count", len(funcs)))
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			zap.L().Warn("Shutdown function error", zap.Error(err))
		}
	}
	zap.L().Info("Graceful shutdown process completed")
	_ = zap.L().Sync()
}

func wrapShutdownFunc(name string, fn func() error) func(context.Context) error {
	return func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- fn()
		}()

		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("%s shutdown failed: %w", name, err)
			}
			zap.L().Info("Shutdown function completed", zap.String("name", name))
			return nil
		case <-ctx.Done():
			zap.L().Warn("Shutdown function timeout", zap.String("name", name))
			return ctx.Err()
		}
	}
}
