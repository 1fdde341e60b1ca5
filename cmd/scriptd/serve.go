package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/scriptd/internal/events"
	"github.com/CZERTAINLY/scriptd/internal/httpapi"
	"github.com/CZERTAINLY/scriptd/internal/service"
)

const (
	eventQueue      = 1024
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve runs the script manager and its HTTP API",
		Args:  cobra.NoArgs,
		RunE:  doServe,
	}
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd, "serve"), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pubs := []events.Publisher{events.NewLogPublisher(slog.Default())}
	if k := config.Events.Kafka; k.Enabled {
		p, err := events.NewKafkaPublisher(k)
		if err != nil {
			return fmt.Errorf("initializing kafka publisher: %w", err)
		}
		pubs = append(pubs, p)
	}
	dispatcher := events.NewDispatcher(ctx, eventQueue, pubs...)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			slog.ErrorContext(ctx, "closing event publishers", "error", err)
		}
	}()

	manager := service.New(config.Executor, service.WithObserver(dispatcher.Notify))
	defer func() {
		_ = manager.Close()
	}()

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              config.HTTP.Addr.String(),
		Handler:           httpapi.New(manager),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
