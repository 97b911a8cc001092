// Command pinstay keeps pinned Chrome tabs on their domain.
//
// Usage:
//
//	pinstay -config pinstay.yaml
//	pinstay -remote ws://127.0.0.1:9222/devtools/browser/...
//	pinstay -hash-token s3cret    # print a bcrypt hash for http.token_hash
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/tabkeep/dbopen"
	"github.com/hazyhaar/tabkeep/internal/browser"
	"github.com/hazyhaar/tabkeep/internal/config"
	"github.com/hazyhaar/tabkeep/internal/journal"
	"github.com/hazyhaar/tabkeep/internal/lockstate"
	"github.com/hazyhaar/tabkeep/internal/notify"
	"github.com/hazyhaar/tabkeep/internal/snapshot"
	"github.com/hazyhaar/tabkeep/pinstay"
	"github.com/hazyhaar/tabkeep/shield"
)

func main() {
	configPath := flag.String("config", "", "path to pinstay.yaml (defaults apply when empty)")
	remote := flag.String("remote", "", "attach to a running Chrome at this DevTools WebSocket URL")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	hashToken := flag.String("hash-token", "", "print the bcrypt hash of a bearer token and exit")
	flag.Parse()

	if *hashToken != "" {
		h, err := shield.HashToken(*hashToken)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash:", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *remote); err != nil {
		logger.Error("pinstay: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, remote string) error {
	cfg := config.Default()
	if configPath != "" {
		c, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
	}
	if remote != "" {
		cfg.Browser.Remote = remote
	}

	// State database: lock snapshot and the adapter's pinned targets.
	statePath, sessionScoped := snapshot.ResolvePath(cfg.Store.SessionDir, cfg.Store.DataDir)
	stateDB, err := dbopen.Open(statePath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(snapshot.Schema),
		dbopen.WithSchema(browser.Schema),
	)
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer stateDB.Close()
	logger.Info("pinstay: state", "path", statePath, "session_scoped", sessionScoped)

	store, err := snapshot.NewSQLiteStore(stateDB)
	if err != nil {
		return err
	}
	existed, err := store.Existed(ctx)
	if err != nil {
		return err
	}

	// Journal.
	journalDB, err := dbopen.Open(cfg.Journal.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(journal.Schema),
	)
	if err != nil {
		return fmt.Errorf("open journal db: %w", err)
	}
	defer journalDB.Close()

	jrnl := journal.New(journalDB,
		journal.WithBufferSize(cfg.Journal.BufferSize),
		journal.WithFlushInterval(cfg.Journal.FlushInterval),
		journal.WithLogger(logger),
	)
	defer jrnl.Close()
	if n, err := jrnl.Cleanup(ctx, cfg.Journal.RetentionDays); err != nil {
		logger.Warn("pinstay: journal cleanup", "error", err)
	} else if n > 0 {
		logger.Info("pinstay: journal cleanup", "deleted", n)
	}

	writer := snapshot.NewWriter(store, snapshot.WithWriterLogger(logger))
	defer writer.Close()
	reg := lockstate.NewRegistry(writer, logger)

	// Browser.
	userDataDir := cfg.Browser.UserDataDir
	if userDataDir == "" && cfg.Browser.Remote == "" {
		userDataDir = filepath.Join(cfg.Store.DataDir, "chrome")
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:      cfg.Browser.Remote,
		Headless:       cfg.Browser.Headless,
		UserDataDir:    userDataDir,
		HealthInterval: cfg.Browser.HealthInterval,
		Logger:         logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer mgr.Close()

	h := browser.New(mgr, browser.NewPinStore(stateDB), browser.Options{
		Stealth:      cfg.Browser.Stealth,
		DestroyGrace: cfg.Browser.DestroyGrace,
		FirstRun:     !existed,
		Logger:       logger,
	})

	// Notifiers.
	var notifiers []notify.Notifier
	if cfg.Notify.PopupEnabled() {
		notifiers = append(notifiers, notify.NewPopup(h, logger))
	}
	if cfg.Notify.Stdout {
		notifiers = append(notifiers, notify.NewStdout(nil))
	}
	if cfg.Notify.Webhook != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.Webhook, notify.WithWebhookLogger(logger)))
	}
	router := notify.NewRouter(logger, notifiers...)
	defer router.Close()

	eng := pinstay.New(pinstay.Options{
		Host:          h,
		Registry:      reg,
		Store:         store,
		Notifier:      router,
		Journal:       jrnl,
		History:       jrnl,
		NotifyDelay:   cfg.Notify.Delay,
		Title:         cfg.Notify.Title,
		Position:      cfg.Notify.Position,
		RevertMessage: cfg.Notify.RevertMessage,
		CloseMessage:  cfg.Notify.CloseMessage,
		WelcomeURL:    cfg.WelcomeURL,
		Logger:        logger,
	})

	// Operator surface: REST plus MCP over streamable HTTP.
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pinstay", Version: "1.0.0"}, nil)
	eng.RegisterMCP(mcpSrv)

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: eng.Handler(pinstay.HTTPOptions{
			TokenHash: cfg.HTTP.TokenHash,
			MCP:       pinstay.MCPHandler(mcpSrv),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := h.Start(ctx); err != nil {
		return fmt.Errorf("attach browser: %w", err)
	}
	defer h.Close()

	go func() {
		logger.Info("pinstay: http listening", "addr", cfg.HTTP.Addr, "auth", cfg.HTTP.TokenHash != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pinstay: http", "error", err)
		}
	}()

	err = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if sErr := srv.Shutdown(shutdownCtx); sErr != nil {
		logger.Error("pinstay: http shutdown", "error", sErr)
	}
	logger.Info("pinstay: stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
