package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xaenox/nova/internal/auth"
	"github.com/xaenox/nova/internal/bot"
	"github.com/xaenox/nova/internal/chat"
	"github.com/xaenox/nova/internal/completion"
	"github.com/xaenox/nova/internal/httpapi"
	"github.com/xaenox/nova/internal/pipeline"
	"github.com/xaenox/nova/internal/socket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the websocket endpoint and the optional Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := openStorage(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return err
	}
	mem, err := openMemory(ctx, cfg.Memory, embedder.Dimensions(), logger)
	if err != nil {
		return err
	}
	defer mem.Close()

	completer, err := completion.New(completionConfig(cfg.Completion), logger)
	if err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	authn, err := auth.New(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	turns := pipeline.New(store, embedder, mem, completer, logger, pipelineOptions(cfg.Pipeline)...)
	chats := chat.NewService(store, mem, logger)

	server := httpapi.New(httpapi.Config{
		Port:        cfg.Server.Port,
		FrontendURL: cfg.Server.FrontendURL,
	}, chats, turns, authn, logger)
	server.Mount("GET /socket", socket.NewHandler(turns, []string{cfg.Server.FrontendURL}, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if cfg.Telegram.Token != "" {
		b, err := bot.New(cfg.Telegram.Token, chats, turns, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return b.Start(gctx)
		})
	} else {
		logger.Info("Telegram token not configured, bot disabled")
	}

	logger.Info("Nova started",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("memory", cfg.Memory.Backend),
		zap.String("completion", cfg.Completion.Provider))
	return g.Wait()
}
