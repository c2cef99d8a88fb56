package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sync/atomic"
	"time"

	"github.com/Trendyol/go-db-sync/config"
	"github.com/Trendyol/go-db-sync/internal/metric"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/Trendyol/go-db-sync/report"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ReportProvider interface {
	LastReport() *report.RunReport
}

type Server interface {
	Listen()
	Shutdown()
}

type server struct {
	reportProvider ReportProvider
	server         http.Server
	syncConfig     config.Config
	closed         atomic.Bool
}

func NewServer(cfg config.Config, registry metric.Registry, reportProvider ReportProvider) Server {
	s := &server{
		syncConfig:     cfg,
		reportProvider: reportProvider,
	}

	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry.Prometheus(), promhttp.HandlerOpts{EnableOpenMetrics: true}))

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /report", s.handleReport)

	if cfg.DebugMode {
		mux.Handle("GET /pprof", pprof.Handler("go-db-sync"))
	}

	s.server = http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Metric.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return s
}

func (s *server) Listen() {
	logger.Info(fmt.Sprintf("server starting on port :%d", s.syncConfig.Metric.Port))

	err := s.server.ListenAndServe()
	if err != nil {
		if errors.Is(err, http.ErrServerClosed) && s.closed.Load() {
			logger.Info("server stopped")
			return
		}
		logger.Error("server cannot start", "port", s.syncConfig.Metric.Port, "error", err)
	}
}

func (s *server) Shutdown() {
	if s == nil {
		return
	}
	s.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("error while api cannot be shutdown", "error", err)
	}
}

func (s *server) handleReport(w http.ResponseWriter, _ *http.Request) {
	if s.reportProvider == nil {
		http.Error(w, "report not available", http.StatusServiceUnavailable)
		return
	}

	last := s.reportProvider.LastReport()
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(last); err != nil {
		logger.Error("failed to encode run report response", "error", err)
	}
}
