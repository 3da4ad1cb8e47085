package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/webmrelay/internal/config"
	"github.com/alxayo/webmrelay/internal/logger"
	srv "github.com/alxayo/webmrelay/internal/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// the flag package prints its own parse errors and usage; the
		// value checks in parseFlags exit here without printing
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	if cfg.configPath != "" {
		fileCfg, err := config.Load(cfg.configPath)
		if err != nil {
			fmt.Printf("failed to load -config %q: %v\n", cfg.configPath, err)
			os.Exit(2)
		}
		cfg.applyFile(fileCfg)
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	server := srv.New(srv.Config{
		ListenAddr:           cfg.listenAddr,
		LogLevel:             cfg.logLevel,
		ReapWindow:           cfg.reapWindow,
		MaxHeaderBytes:       cfg.maxHeaderBytes,
		PublishChunkBytes:    cfg.publishChunkBytes,
		SubscriberQueueDepth: cfg.subscriberQueueDepth,
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
