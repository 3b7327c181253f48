package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/udpkv/internal/admin"
	"github.com/danmuck/udpkv/internal/config"
	"github.com/danmuck/udpkv/internal/dispatch"
	"github.com/danmuck/udpkv/internal/logging"
	"github.com/danmuck/udpkv/internal/observability"
	"github.com/danmuck/udpkv/internal/server"
	"github.com/rs/zerolog/log"
)

func main() {
	opts := parseFlags(os.Args[1:])
	observability.InitLogger("kvd")

	if opts.writeConfig != "" {
		if err := config.WriteTemplate(opts.writeConfig, false); err != nil {
			log.Fatal().Err(err).Msg("failed to write config template")
		}
		log.Info().Str("path", opts.writeConfig).Msg("wrote config template")
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetLevel(cfg.LogLevel)

	if opts.printConfig {
		out, err := config.Render(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to render config")
		}
		fmt.Print(string(out))
		return
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("kvd stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := dispatch.New(cfg.Capacity)
	if err != nil {
		return err
	}
	srv := server.New(cfg.ServerConfig(), d)
	if err := srv.Listen(); err != nil {
		return err
	}
	log.Info().
		Str("name", cfg.Name).
		Str("addr", srv.LocalAddr().String()).
		Int("capacity", cfg.Capacity).
		Bool("error_replies", cfg.ErrorReplies).
		Msg("kvd started")

	adminErr := make(chan error, 1)
	if cfg.Admin.Addr != "" {
		a := admin.New(cfg.Name, cfg.Admin.Addr, cfg.Admin.CorsOrigins, srv)
		go func() {
			adminErr <- a.Serve(ctx)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ctx)
	}()

	select {
	case err := <-serveErr:
		return err
	case err := <-adminErr:
		if err != nil {
			stop()
			<-serveErr
			return fmt.Errorf("admin: %w", err)
		}
		return <-serveErr
	}
}
