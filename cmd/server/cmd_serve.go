package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chatmk/internal/presence"
	"github.com/Tyrowin/chatmk/internal/server"
	"github.com/Tyrowin/chatmk/internal/store"
	"github.com/Tyrowin/chatmk/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(&cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	pub, err := presence.New(cfg.Presence, log)
	if err != nil {
		return fmt.Errorf("create presence publisher: %w", err)
	}
	defer pub.Close()

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(cfg, st, pub, metrics.New(cfg.Metrics), log)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	log.Info("server stopped")
	return nil
}
