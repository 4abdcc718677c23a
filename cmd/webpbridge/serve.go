package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Skryldev/webpbridge"
	"github.com/Skryldev/webpbridge/adapters/storage"
	"github.com/Skryldev/webpbridge/config"
	"github.com/Skryldev/webpbridge/hooks"
	"github.com/Skryldev/webpbridge/internal/middleware"
	"github.com/Skryldev/webpbridge/internal/rest"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath, codec := commonFlags(fs)
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	noStore := fs.Bool("no-store", false, "disable the storage routes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	proc, err := newProcessor(*cfgPath, *codec)
	if err != nil {
		return err
	}
	proc.AddHook(hooks.NewLoggingHook(hooks.NewZerologLogger(log.Logger)))
	defer proc.Stop()
	cfg := proc.Inner().Config()

	router, err := newRouter(cfg, proc, !*noStore)
	if err != nil {
		return err
	}

	listen := cfg.Server.Addr
	if *addr != "" {
		listen = *addr
	}
	srv := &http.Server{
		Addr:    listen,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listen).Str("codec", proc.Codec().Name()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	log.Info().Msg("Server stopped")
	return nil
}

func newRouter(cfg config.Config, proc *webpbridge.Processor, withStorage bool) (*gin.Engine, error) {
	images := &rest.Images{Proc: proc}
	if withStorage {
		local, err := storage.NewLocal(cfg.Local.RootDir, os.FileMode(cfg.Local.Permissions))
		if err != nil {
			return nil, err
		}
		images.Storage = local
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.LoggingMiddleware(log.Logger))
	router.Use(gin.CustomRecovery(middleware.HandlePanics()))
	rest.NewApi(router, images)
	return router, nil
}
