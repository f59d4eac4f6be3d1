package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"candleflow/logger"
	"candleflow/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// session is one websocket client. Writes go through the send channel so a
// single pump goroutine owns the connection's write side.
type session struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
	send    chan []byte
	log     *logger.Entry

	closeOnce sync.Once
	done      chan struct{}
}

// statusFrame is the wire shape of a relayed system-status broadcast.
type statusFrame struct {
	Event     string    `json:"event"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleSocket(c *gin.Context) {
	log := s.log.WithComponent("query_server")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	id := uuid.New().String()
	sess := &session{
		id:   id,
		conn: conn,
		limiter: rate.NewLimiter(
			rate.Limit(s.cfg.RateLimit.RequestsPerSecond),
			s.cfg.RateLimit.BurstSize,
		),
		send: make(chan []byte, 16),
		log: log.WithFields(logger.Fields{
			"session_id":  id,
			"remote_addr": c.Request.RemoteAddr,
		}),
		done: make(chan struct{}),
	}

	s.addSession(sess)
	sess.log.Info("client connected")

	go sess.writePump()
	s.readLoop(sess)

	s.removeSession(sess)
	sess.close()
	sess.log.Info("client disconnected")
}

func (s *Server) readLoop(sess *session) {
	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var req models.QueryRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			sess.log.WithError(err).Warn("unparseable request")
			sess.enqueueJSON(models.QueryError{Error: "Invalid request format"})
			continue
		}

		switch req.Type {
		case models.QueryTypeGetCandles:
			if !sess.limiter.Allow() {
				sess.log.Warn("request rate limit exceeded")
				sess.enqueueJSON(models.QueryError{Error: "Too many requests"})
				continue
			}
			s.serveCandles(sess)
		default:
			sess.log.WithFields(logger.Fields{"type": req.Type}).Debug("ignoring unknown request type")
		}
	}
}

func (s *Server) serveCandles(sess *session) {
	payload, err := json.Marshal(s.buildSnapshot())
	if err != nil {
		sess.log.WithError(err).Error("failed to marshal candle snapshot")
		return
	}

	if sess.enqueue(payload) {
		logger.IncrementQueryServed(len(payload))
		sess.log.WithFields(logger.Fields{"bytes": len(payload)}).Info("candle snapshot served")
	}
}

// broadcastStatus relays system-status events to every connected client.
func (s *Server) broadcastStatus(ctx context.Context) {
	if s.statusCh == nil {
		return
	}

	log := s.log.WithComponent("query_server").WithFields(logger.Fields{"worker": "status_broadcast"})

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.statusCh.Events:
			if !ok {
				return
			}
			frame, err := json.Marshal(statusFrame{
				Event:     models.StatusTopic,
				Status:    ev.Status,
				Timestamp: ev.Timestamp,
			})
			if err != nil {
				log.WithError(err).Warn("failed to marshal status frame")
				continue
			}

			s.mu.RLock()
			sessions := make([]*session, 0, len(s.sessions))
			for _, sess := range s.sessions {
				sessions = append(sessions, sess)
			}
			s.mu.RUnlock()

			for _, sess := range sessions {
				sess.enqueue(frame)
			}
			log.WithFields(logger.Fields{
				"status":  ev.Status,
				"clients": len(sessions),
			}).Info("status broadcast")
		}
	}
}

// enqueue hands a frame to the write pump without blocking; frames for a
// stalled client are dropped.
func (sess *session) enqueue(payload []byte) bool {
	select {
	case sess.send <- payload:
		return true
	case <-sess.done:
		return false
	default:
		sess.log.Warn("send buffer full, dropping frame")
		return false
	}
}

func (sess *session) enqueueJSON(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		sess.log.WithError(err).Error("failed to marshal frame")
		return
	}
	sess.enqueue(payload)
}

func (sess *session) writePump() {
	for {
		select {
		case <-sess.done:
			return
		case payload := <-sess.send:
			if err := sess.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				sess.log.WithError(err).Warn("failed to write frame")
				sess.close()
				return
			}
		}
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		sess.conn.Close()
	})
}
