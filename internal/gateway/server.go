package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/wudi/relay/internal/config"
	"github.com/wudi/relay/internal/logging"
	"github.com/wudi/relay/internal/metrics"
)

// Server runs the gateway listener, the admin listener, and the config
// watcher.
type Server struct {
	cfg       *config.Config
	gateway   *Gateway
	collector *metrics.Collector

	httpServer  *http.Server
	adminServer *http.Server
	watcher     *config.Watcher
}

// NewServer builds a server from a validated config.
func NewServer(cfg *config.Config) (*Server, error) {
	collector := metrics.NewCollector()

	gw, err := New(cfg, collector)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		gateway:   gw,
		collector: collector,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Admin.Enabled {
		s.adminServer = &http.Server{
			Addr:    cfg.Admin.Addr,
			Handler: s.adminMux(),
		}
	}

	return s, nil
}

// Gateway returns the underlying gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// adminMux serves the operational endpoints.
func (s *Server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		routes := s.gateway.Routes()
		out := make(map[string]interface{}, len(routes))
		for id, rt := range routes {
			out[id] = map[string]interface{}{
				"path":         rt.Path,
				"methods":      rt.Methods,
				"strip_prefix": rt.StripPrefix,
			}
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/backends", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.gateway.Backends())
	})

	mux.HandleFunc("/cache", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.gateway.CacheStats())
	})

	mux.Handle("/metrics", s.collector.Handler())

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Start begins serving and, when a config path is given, watching it
// for changes. It blocks until the listener fails or Shutdown runs.
func (s *Server) Start(configPath string) error {
	s.gateway.Start()

	if configPath != "" {
		w, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
			if err := s.gateway.Reload(newCfg); err != nil {
				logging.Error("config reload failed, keeping previous config", zap.Error(err))
			}
		})
		if err != nil {
			logging.Warn("config watcher unavailable", zap.Error(err))
		} else {
			s.watcher = w
		}
	}

	if s.adminServer != nil {
		go func() {
			logging.Info("admin listener starting", zap.String("addr", s.adminServer.Addr))
			if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("admin listener failed", zap.Error(err))
			}
		}()
	}

	logging.Info("gateway listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout and
// stops the background machinery.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.watcher != nil {
		s.watcher.Close()
	}

	var err error
	if s.adminServer != nil {
		if e := s.adminServer.Shutdown(ctx); e != nil {
			err = e
		}
	}
	if e := s.httpServer.Shutdown(ctx); e != nil {
		err = e
	}

	s.gateway.Close()
	logging.Sync()
	return err
}
