package app

import (
	"context"

	"go.uber.org/zap"

	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/pkg/logger"
	"campusdesk.io/notify/internal/pkg/worker"
)

// MarkRead marks id read in the background.
func (a *Application) MarkRead(id notification.ID) {
	a.mutate("mark_read", "Could not mark notification as read", func(ctx context.Context) error {
		return a.Store.MarkRead(ctx, id)
	})
}

// MarkAllRead marks everything read in the background.
func (a *Application) MarkAllRead() {
	a.mutate("mark_all_read", "Could not mark notifications as read", a.Store.MarkAllRead)
}

// Delete removes id in the background.
func (a *Application) Delete(id notification.ID) {
	a.mutate("delete", "Could not delete notification", func(ctx context.Context) error {
		return a.Store.Delete(ctx, id)
	})
}

// mutate runs fn on the general pool. The store applies the change locally
// before calling the server; when the server rejects it the user gets an
// error toast and the store is re-synced so it converges on server state.
func (a *Application) mutate(op, title string, fn func(context.Context) error) {
	err := a.Pools.SubmitDetached(worker.PoolGeneral, func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			a.Presenter.ShowError(title, err)
			if syncErr := a.Store.Sync(ctx); syncErr != nil {
				logger.Warn("reconciliation sync failed", zap.String("op", op), zap.Error(syncErr))
			}
		}
	})
	if err != nil {
		logger.Error("notification action not scheduled", zap.String("op", op), zap.Error(err))
	}
}
