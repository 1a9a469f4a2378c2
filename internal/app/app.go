// Package app assembles the inference server: checkpoint, toolkit,
// pipeline, registry, and HTTP listener, with graceful shutdown.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/damienfeller/IC-test-lab-segmentation/internal/checkpoint"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/inference"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/logging"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/registry"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/server"
	"github.com/damienfeller/IC-test-lab-segmentation/internal/toolkit"
)

func Run(cfg *Config) error {
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, JSON: true})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ckpt, err := checkpoint.Load(cfg.Checkpoint)
	if err != nil {
		return err
	}
	tk, err := toolkit.New(ckpt.Config)
	if err != nil {
		return err
	}

	maskDir, err := os.MkdirTemp("", "seglab-serve-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(maskDir)

	pipe, err := inference.New(ctx, tk, ckpt,
		inference.WithWorkers(cfg.Workers),
		inference.WithOutputDir(maskDir),
		inference.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer pipe.Close()

	var reg *registry.Registry
	if cfg.OutputRoot != "" {
		reg, err = registry.Open(ctx, filepath.Join(cfg.OutputRoot, registry.DefaultFile))
		if err != nil {
			return err
		}
		defer reg.Close()
	}

	httpSrv := server.NewHTTPServer(server.Config{
		Addr:           cfg.Addr,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, pipe, reg, log)

	errc := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Addr, "checkpoint", ckpt.ID())
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
