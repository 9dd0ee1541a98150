package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/local-chat/internal/services"
	"github.com/MegaGrindStone/local-chat/internal/session"
	"github.com/MegaGrindStone/local-chat/internal/transport"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type options struct {
	server    string
	statePath string
	timeout   time.Duration
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "localchat",
		Short:        "Chat with a locally hosted model through the localchat background server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", "http://127.0.0.1:8080", "base URL of the background server")
	flags.StringVar(&opts.statePath, "state", "", "settings file (default: <user config dir>/localchat/client.db, \"-\" keeps settings in memory)")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "timeout of request/response exchanges, 0 disables it")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	return cmd
}

func run(ctx context.Context, opts options) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	settings, closeSettings, err := openSettings(opts.statePath)
	if err != nil {
		return err
	}
	defer closeSettings()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := transport.NewHTTPClient(opts.server, opts.timeout, logger)

	g, ctx := errgroup.WithContext(ctx)
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()

	ready := make(chan struct{})
	g.Go(func() error {
		return client.Listen(listenCtx, ready)
	})

	// Events published before the stream is established would be lost.
	select {
	case <-ready:
	case <-ctx.Done():
		return g.Wait()
	}

	sess := session.Open(ctx, client, settings, logger)
	defer sess.Close()

	g.Go(func() error {
		defer stopListening()
		return newREPL(sess, os.Stdin, os.Stdout).run(ctx)
	})

	return g.Wait()
}

func openSettings(path string) (session.Settings, func(), error) {
	if path == "-" {
		return &session.MemorySettings{}, func() {}, nil
	}
	if path == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, nil, fmt.Errorf("error getting user config dir: %w", err)
		}
		dir := filepath.Join(cfgDir, "localchat")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("error creating config directory: %w", err)
		}
		path = filepath.Join(dir, "client.db")
	}

	db, err := services.NewBoltDB(path)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
