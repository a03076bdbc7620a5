// Package gateway exposes the bridge to subscribers: a small REST
// surface for polling and a websocket stream mirroring the original
// event protocol.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/season179/wabridge/internal/bus"
	"github.com/season179/wabridge/internal/engine"
	"github.com/season179/wabridge/internal/provider"
	"github.com/season179/wabridge/internal/store"
)

// Session is the slice of the actor the gateway drives.
type Session interface {
	Status() engine.Status
	State() engine.Snapshot
	SendText(ctx context.Context, chatID, content string) (*store.Message, error)
	SendMedia(ctx context.Context, chatID string, media provider.Media) (*store.Message, error)
	Restart(ctx context.Context) error
}

// Server hosts the HTTP and websocket endpoints.
type Server struct {
	name    string
	session Session
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer builds the server on the given listen address.
func NewServer(addr, sessionName string, session Session, db *store.DB, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		name:    sessionName,
		session: session,
		db:      db,
		bus:     b,
		logger:  logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	router.Use(cors.New(corsCfg))

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/qr.png", s.handleQRImage)
	api.GET("/chats", s.handleChats)
	api.GET("/chats/:chatID/messages", s.handleMessages)
	api.POST("/restart", s.handleRestart)
	router.GET("/ws", func(c *gin.Context) {
		s.handleWS(c.Writer, c.Request)
	})

	s.httpSrv = &http.Server{Addr: addr, Handler: router}
	return s
}

// Handler exposes the router, mainly so tests can serve it directly.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until Shutdown. Blocking.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and closes the listener.
// Hijacked websocket connections end when their read loop observes the
// closed transport.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	_ = s.httpSrv.Close()
	return err
}

func (s *Server) handleStatus(c *gin.Context) {
	snap := s.session.State()
	resp := gin.H{"session": s.name, "status": snap.Status}
	if snap.Status == engine.QRPending && snap.QR != "" {
		resp["qr"] = snap.QR
	}
	if n, err := s.db.ChatCount(); err == nil {
		resp["chats"] = n
	}
	if n, err := s.db.MessageCount(); err == nil {
		resp["messages"] = n
	}
	c.JSON(http.StatusOK, resp)
}

// handleQRImage renders the current QR payload as a PNG, so the code
// can be scanned straight from a browser tab.
func (s *Server) handleQRImage(c *gin.Context) {
	snap := s.session.State()
	if snap.Status != engine.QRPending || snap.QR == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no qr code pending"})
		return
	}
	png, err := qrcode.Encode(snap.QR, qrcode.Medium, 256)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr encoding failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleChats(c *gin.Context) {
	snap := s.session.State()
	if snap.Status != engine.Ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session not ready"})
		return
	}
	chats := snap.Chats
	if chats == nil {
		chats = []engine.CacheEntry{}
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) handleMessages(c *gin.Context) {
	chatID := c.Param("chatID")
	chat, err := s.db.GetChat(chatID)
	if err != nil {
		s.logger.Error("chat lookup failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	if chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chat"})
		return
	}

	msgs, err := s.db.ListMessagesAsc(chatID)
	if err != nil {
		s.logger.Error("message listing failed", zap.String("chat_id", chatID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage failure"})
		return
	}
	out := make([]wireMessage, 0, len(msgs))
	for i := range msgs {
		out = append(out, toWireMessage(&msgs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRestart(c *gin.Context) {
	if err := s.session.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}
