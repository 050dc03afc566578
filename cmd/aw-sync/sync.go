package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/router"
	"Mansoor88-6/aw-sync-agent/internal/server"
	"Mansoor88-6/aw-sync-agent/internal/service"
)

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return withCode(service.ExitServerError, err)
	}
	defer a.Close()

	if !continuous {
		report := a.svc.RunCycle(ctx)
		if code := report.ExitCode(); code != service.ExitOK {
			return withCode(code, nil)
		}
		return nil
	}

	if cfg.StatusServer.Enabled {
		status := server.NewStatusServer(a.svc, a.store, a.log.Logger)
		handler := router.New(status, a.metrics.Handler(), a.log.Logger)
		addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.StatusServer.Port))
		go func() {
			if err := server.ListenAndServe(ctx, addr, handler, a.log.Logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Status server stopped", zap.Error(err))
			}
		}()
	}

	if err := a.svc.Run(ctx); err != nil {
		return withCode(service.ExitServerError, fmt.Errorf("continuous sync failed: %w", err))
	}
	return nil
}
