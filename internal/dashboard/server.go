package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mealflow/cart"
	"mealflow/config"
	"mealflow/internal/metrics"
	"mealflow/internal/state"
	"mealflow/logger"
)

// Server hosts a local JSON status endpoint for inspecting the running agent:
// connection state, subscriptions, recent events, counters, logs, and the
// persisted cart.
type Server struct {
	cfg        config.DashboardConfig
	log        *logger.Log
	logStore   *logStore
	conn       *state.ConnectionStore
	cart       *cart.Store
	httpServer *http.Server
}

// NewServer constructs the status server when the dashboard feature is
// enabled. When disabled the returned server is nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, conn *state.ConnectionStore, cartStore *cart.Store) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	return &Server{
		cfg:      cfg,
		log:      log,
		logStore: logStore,
		conn:     conn,
		cart:     cartStore,
	}, nil
}

// Run starts the status HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.logStore.close()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the status server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"app": appName, "status": "ok"})
	})

	router.GET("/api/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             s.conn.Status(),
			"connected":          s.conn.IsConnected(),
			"reconnect_attempts": s.conn.ReconnectAttempts(),
			"last_error":         s.conn.LastError(),
			"subscriptions":      s.conn.Subscriptions(),
		})
	})

	router.GET("/api/events", func(c *gin.Context) {
		events := s.conn.Events()
		payload := make([]gin.H, 0, len(events))
		for _, e := range events {
			payload = append(payload, gin.H{
				"type":      e.Type,
				"data":      e.Data,
				"timestamp": e.Timestamp,
			})
		}
		c.JSON(http.StatusOK, gin.H{"events": payload})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"counters": metrics.Snapshot()})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		logsSnapshot := s.logStore.snapshot()
		payload := make([]gin.H, 0, len(logsSnapshot))
		for _, l := range logsSnapshot {
			payload = append(payload, gin.H{
				"timestamp": l.Timestamp.Format(time.RFC3339Nano),
				"level":     l.Level,
				"component": l.Component,
				"message":   l.Message,
				"fields":    l.Fields,
			})
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/cart", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"restaurant_id": s.cart.RestaurantID(),
			"items":         s.cart.Items(),
			"item_count":    s.cart.ItemCount(),
			"subtotal":      s.cart.Subtotal(),
		})
	})

	return router, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	// The status endpoint is a local debug surface; bind loopback by default.
	if addr == "" {
		return "127.0.0.1:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil {
			if host := parsed.Host; host != "" {
				addr = host
			} else if parsed.Opaque != "" {
				addr = parsed.Opaque
			}
		}
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "127.0.0.1" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "8080")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "8080")
	}

	return addr
}
