package app

import (
	"go.uber.org/zap"

	"campusdesk.io/notify/internal/pkg/logger"
)

// Shutdown signs out and releases the worker pools.
func (a *Application) Shutdown() {
	if a.Push != nil {
		a.SignOut()
	}

	a.mu.Lock()
	unsubs := a.unsubs
	a.unsubs = nil
	a.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}

	if a.Pools != nil {
		logger.Debug("releasing worker pools", zap.Any("pools", a.Pools.Metrics()))
		a.Pools.Shutdown()
	}
}
