package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	appconfig "candleflow/config"
	"candleflow/internal/channel/status"
	"candleflow/internal/history"
	"candleflow/logger"
	"candleflow/models"
)

// Server hosts the Gin-powered query interface: a health route plus a
// websocket endpoint that serves candle history snapshots and relays
// system-status broadcasts to connected clients.
type Server struct {
	cfg        appconfig.ServerConfig
	symbols    []string
	interval   int
	store      *history.Store
	statusCh   *status.Channels
	log        *logger.Log
	httpServer *http.Server

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewServer constructs a query server when the server feature is enabled.
// When the server is disabled the returned server will be nil.
func NewServer(cfg *appconfig.Config, store *history.Store, statusCh *status.Channels) *Server {
	if !cfg.Server.Enabled {
		return nil
	}

	serverCfg := cfg.Server
	serverCfg.Address = normalizeAddress(serverCfg.Address)

	return &Server{
		cfg:      serverCfg,
		symbols:  cfg.Candleflow.Symbols,
		interval: cfg.Aggregator.IntervalSeconds,
		store:    store,
		statusCh: statusCh,
		log:      logger.GetLogger(),
		sessions: make(map[string]*session),
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	log := s.log.WithComponent("query_server")
	log.WithFields(logger.Fields{"address": s.cfg.Address}).Info("starting query server")

	go s.broadcastStatus(ctx)

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
		s.closeSessions()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		log.Info("query server stopped")
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

// Address reports the network address the query server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "active"})
	})

	router.GET("/ws", s.handleSocket)

	return router
}

// buildSnapshot assembles the query response: one columnar snapshot per
// configured symbol plus the server timestamp. Symbols with no candles yet
// get empty arrays rather than being omitted.
func (s *Server) buildSnapshot() map[string]interface{} {
	snapshots := s.store.Snapshot()

	response := make(map[string]interface{}, len(s.symbols)+1)
	for _, symbol := range s.symbols {
		snap, ok := snapshots[symbol]
		if !ok {
			snap = models.SymbolSnapshot{
				Open:     []float64{},
				High:     []float64{},
				Low:      []float64{},
				Close:    []float64{},
				Volume:   []float64{},
				Trades:   []int{},
				Interval: models.IntervalLabel(s.interval),
			}
		}
		response[symbol] = snap
	}
	response["server_timestamp"] = models.ISOTime(time.Now().UnixMilli())

	return response
}

func (s *Server) addSession(sess *session) {
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)

	if addr == "" {
		return "0.0.0.0:5001"
	}

	if strings.HasPrefix(addr, ":") {
		if len(addr) > 1 && addr[1] >= '0' && addr[1] <= '9' {
			return "0.0.0.0" + addr
		}
	}

	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "5001"
		}
		return net.JoinHostPort(host, port)
	}

	if ip := net.ParseIP(addr); ip != nil {
		return net.JoinHostPort(addr, "5001")
	}

	if !strings.Contains(addr, ":") {
		return net.JoinHostPort(addr, "5001")
	}

	return addr
}
