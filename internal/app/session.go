package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campusdesk.io/notify/internal/auth"
	apperrors "campusdesk.io/notify/internal/pkg/errors"
	"campusdesk.io/notify/internal/pkg/logger"
)

// SignIn starts a session for the bearer token. An empty token is resolved
// through the token source. The initial sync is best effort: on failure the
// session still starts and the error is only logged.
func (a *Application) SignIn(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		var err error
		if token, err = a.Tokens.Token(); err != nil {
			return auth.Identity{}, err
		}
	}

	id, err := auth.ParseToken(token)
	if err != nil {
		return auth.Identity{}, err
	}
	if id.Expired(time.Now()) {
		return auth.Identity{}, apperrors.Unauthorized(apperrors.CodeTokenInvalid, "bearer token expired").
			WithParams(map[string]interface{}{"expires_at": id.ExpiresAt})
	}

	if current := a.Identity(); current != nil {
		a.SignOut()
	}

	a.API.SetToken(token)
	a.Dialer.SetToken(token)
	a.Store.Reset()

	a.mu.Lock()
	a.identity = &id
	a.mu.Unlock()

	log := logger.With(zap.String("user_id", id.UserID))
	log.Info("signed in", zap.String("username", id.Username), zap.String("role", string(id.Role)))

	if err := a.Store.Sync(ctx); err != nil {
		log.Warn("initial notification sync incomplete", zap.Error(err))
	}
	if err := a.Push.Connect(ctx, id.UserID, a.onPush); err != nil {
		log.Error("push channel not started", zap.Error(err))
	}
	return id, nil
}

// SignOut closes the push session and forgets all notification state.
func (a *Application) SignOut() {
	a.mu.Lock()
	id := a.identity
	a.identity = nil
	a.mu.Unlock()

	a.Push.Disconnect()
	a.Store.Reset()
	a.API.SetToken("")
	a.Dialer.SetToken("")
	a.Presenter.ClearUnavailable()

	if id != nil {
		logger.Info("signed out", zap.String("user_id", id.UserID))
	}
}

// Identity returns the signed-in user, or nil.
func (a *Application) Identity() *auth.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.identity == nil {
		return nil
	}
	id := *a.identity
	return &id
}

// Refresh re-syncs from the server and restarts the push channel when it
// has given up.
func (a *Application) Refresh(ctx context.Context) error {
	id := a.Identity()
	if id == nil {
		return apperrors.Unauthorized(apperrors.CodeUnauthorized, "not signed in")
	}
	err := a.Store.Sync(ctx)
	if err != nil {
		logger.Warn("notification refresh incomplete", zap.Error(err))
	}
	if err := a.Push.Connect(ctx, id.UserID, a.onPush); err != nil {
		logger.Error("push channel not restarted", zap.Error(err))
	}
	return err
}
