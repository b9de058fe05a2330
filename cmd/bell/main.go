// Package main is the Campus Desk notification bell.
//
//	bell [--headless] [--token TOKEN]   watch notifications
//	bell login TOKEN                    save a bearer token in the OS keyring
//	bell logout                         remove the saved token
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"campusdesk.io/notify/internal/app"
	"campusdesk.io/notify/internal/auth"
	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
	"campusdesk.io/notify/internal/pkg/logger"
	"campusdesk.io/notify/internal/ui/bell"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("bell", pflag.ContinueOnError)
	headless := flags.Bool("headless", false, "log notifications instead of drawing the terminal UI")
	token := flags.String("token", "", "bearer token (overrides config and keyring)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *headless {
		cfg.UI.Headless = true
	}

	switch flags.Arg(0) {
	case "login":
		if flags.NArg() < 2 {
			return errors.New("usage: bell login TOKEN")
		}
		return login(cfg, flags.Arg(1))
	case "logout":
		if err := auth.NewTokenSource(cfg.Auth).Clear(); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("Signed out.")
		return nil
	case "":
	default:
		return fmt.Errorf("unknown command %q", flags.Arg(0))
	}

	// The terminal UI owns stdout, so logs go to a file unless headless.
	var outputs []string
	if !cfg.UI.Headless && cfg.Log.File != "" {
		outputs = append(outputs, cfg.Log.File)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, outputs...); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.UI.Headless {
		return watchHeadless(ctx, cfg, *token)
	}
	return watchTerminal(ctx, cfg, *token)
}

func login(cfg *config.Config, token string) error {
	id, err := auth.ParseToken(token)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := auth.NewTokenSource(cfg.Auth).Store(token); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Printf("Signed in as %s (%s).\n", id.Username, id.Role)
	return nil
}

func watchHeadless(ctx context.Context, cfg *config.Config, token string) error {
	application, err := app.Bootstrap(ctx, cfg, notification.LogAlerter{})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()

	id, err := application.SignIn(ctx, token)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	logger.Info("watching notifications",
		zap.String("user_id", id.UserID),
		zap.Int("unread", application.Store.UnreadCount()),
	)
	<-ctx.Done()
	logger.Info("shutdown signal received")
	return nil
}

func watchTerminal(ctx context.Context, cfg *config.Config, token string) error {
	feed := bell.NewFeed()

	application, err := app.Bootstrap(ctx, cfg, feed)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer application.Shutdown()
	defer feed.Close()

	unsubStore := application.Store.OnChange(feed.StoreChanged)
	defer unsubStore()
	unsubState := application.Push.OnStateChange(feed.StateChanged)
	defer unsubState()

	id, err := application.SignIn(ctx, token)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	title := "Notifications"
	if id.Username != "" {
		title = fmt.Sprintf("Notifications · %s", id.Username)
	}
	model := bell.New(feed, application, application.Presenter, title,
		application.Store.Snapshot(), application.Push.State())

	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal ui: %w", err)
	}
	return nil
}
