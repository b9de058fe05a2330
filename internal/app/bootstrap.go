// Package app is the composition root of the notification client.
package app

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"campusdesk.io/notify/internal/auth"
	"campusdesk.io/notify/internal/backend"
	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/pkg/eventbus"
	"campusdesk.io/notify/internal/pkg/logger"
	"campusdesk.io/notify/internal/pkg/worker"
	"campusdesk.io/notify/internal/push"
)

// Application holds the composed client.
type Application struct {
	Config    *config.Config
	Pools     *worker.Pools
	API       *backend.Client
	Dialer    *push.StompDialer
	Push      *push.Manager
	Store     *notification.Store
	Presenter *notification.Presenter
	Tokens    *auth.TokenSource

	mu       sync.Mutex
	identity *auth.Identity
	unsubs   []eventbus.Unsubscribe
}

// Bootstrap wires the client. Alerts are drawn on alerter.
func Bootstrap(ctx context.Context, cfg *config.Config, alerter notification.Alerter) (*Application, error) {
	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		PushPoolSize:    cfg.Worker.PushPoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	api := backend.NewClient(cfg.API)
	dialer := push.NewStompDialer(cfg.Push)

	presenter := notification.NewPresenter(alerter, notification.PresenterOptions{
		ToastDuration: cfg.Alert.ToastDuration,
		RatePerSecond: cfg.Alert.RatePerSecond,
		Burst:         cfg.Alert.Burst,
	})

	a := &Application{
		Config:    cfg,
		Pools:     pools,
		API:       api,
		Dialer:    dialer,
		Push:      push.NewManager(dialer, pools, push.OptionsFromConfig(cfg.Push)),
		Store:     notification.NewStore(api, cfg.Store.RecentWindow),
		Presenter: presenter,
		Tokens:    auth.NewTokenSource(cfg.Auth),
	}

	a.Presenter.OnOpen(a.MarkRead)
	a.unsubs = append(a.unsubs, a.Push.OnStateChange(a.onStateChange))

	logger.Info("notification client ready",
		zap.String("api", cfg.API.NotificationsURL()),
		zap.String("push", cfg.Push.URL),
	)
	return a, nil
}

func (a *Application) onStateChange(c push.StateChange) {
	switch c.To {
	case push.StateFailed:
		a.Presenter.ShowUnavailable()
	case push.StateConnected:
		a.Presenter.ClearUnavailable()
	}
}

// onPush feeds a pushed notification to the store and raises a toast for
// new ones.
func (a *Application) onPush(n notification.Notification) {
	if a.Store.ReceivePush(n) {
		a.Presenter.ShowTransientAlert(n)
	}
}
