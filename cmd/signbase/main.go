// Package main is the entry point for the signbase daemon.
//
// signbase is a browser-local stand-in for the hosted backend of a
// sign-language video catalogue: an authentication service, a binary
// object store and a document database, all persisted into one shared
// key-value directory and exposed over a localhost REST API with the same
// contracts as the hosted service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/signbase/signbase/internal/blob"
	"github.com/signbase/signbase/internal/config"
	"github.com/signbase/signbase/internal/docstore"
	"github.com/signbase/signbase/internal/errcode"
	"github.com/signbase/signbase/internal/kvstore"
	"github.com/signbase/signbase/internal/server"
	"github.com/signbase/signbase/internal/server/handlers"
	"github.com/signbase/signbase/internal/session"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "signbase: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "", "Address to listen on (overrides config.yaml)")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error; overrides config.yaml)")
	seed := flag.Bool("seed-identity", false, "Create the well-known test identity if the registry is empty")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.Addr = *httpAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *seed {
		cfg.SeedIdentity = true
	}
	switch cfg.LogLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info", "":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", cfg.LogLevel)
	}

	// Normalize addr: ":8089" becomes "localhost:8089"
	addr := cfg.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	kv, err := kvstore.NewFile(filepath.Join(*dataDir, "kv"))
	if err != nil {
		return fmt.Errorf("failed to initialize substrate: %w", err)
	}
	defer func() { _ = kv.Close() }()

	sessions := session.New(kv)
	documents := docstore.New(kv)
	documents.StrictUpdates = cfg.StrictUpdates
	blobs, err := blob.New(kv, filepath.Join(*dataDir, "blobs"))
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	if cfg.PutTimeout > 0 {
		blobs.PutTimeout = cfg.PutTimeout
	}

	if cfg.SeedIdentity {
		if err := seedIdentity(ctx, sessions); err != nil {
			return err
		}
	}

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	svc := &handlers.Services{
		Sessions:  sessions,
		Documents: documents,
		Blobs:     blobs,
	}
	buildVersion, _, _, _ := getBuildInfo()
	srvCfg := &server.Config{
		JWTSecret:         cfg.JWTSecret,
		Version:           buildVersion,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		RateLimitBurst:    cfg.RateLimit.Burst,
	}

	router := server.NewRouter(svc, srvCfg)
	defer router.Close()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "version", buildVersion)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// seedIdentity registers the well-known test identity used by the client's
// development builds. Skipped if the email is already registered.
func seedIdentity(ctx context.Context, sessions *session.Store) error {
	name := "Test User"
	_, err := sessions.Register("test@example.com", "password123", session.Patch{DisplayName: &name})
	switch {
	case err == nil:
		slog.InfoContext(ctx, "Seeded test identity", "email", "test@example.com")
	case errcode.IsCode(err, errcode.CodeAlreadyExists):
		slog.DebugContext(ctx, "Test identity already present")
	default:
		return fmt.Errorf("failed to seed identity: %w", err)
	}
	return nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("signbase %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// watchExecutable watches the current executable for modifications and
// calls stop to trigger graceful shutdown when detected. This enables
// seamless restarts during development.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
