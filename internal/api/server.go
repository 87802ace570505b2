package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/rednvr/internal/core"
	"github.com/yourusername/rednvr/internal/database"
	"github.com/yourusername/rednvr/internal/ptz"
	"github.com/yourusername/rednvr/internal/rtsp"
	"github.com/yourusername/rednvr/internal/session"
	"go.uber.org/zap"
)

// Prober는 카메라 연결 테스트 인터페이스 (rtsp.Prober가 구현)
type Prober interface {
	Probe(ctx context.Context, desc core.CameraDescriptor) (*rtsp.ProbeResult, error)
}

// RecordingStore는 녹화 카탈로그 인터페이스 (database.RecordingRepository가 구현)
type RecordingStore interface {
	List(opts database.ListOptions) ([]*database.Recording, error)
	Get(id string) (*database.Recording, error)
	Delete(id string) (*database.Recording, error)
	Count() (int, error)
}

// ClientCounter는 WebSocket 클라이언트 통계 (notify.Server가 구현)
type ClientCounter interface {
	GetClientCount() int
	DroppedMessages() uint64
}

// Server는 HTTP API 서버입니다
type Server struct {
	logger     *zap.Logger
	httpServer *http.Server
	router     *gin.Engine
	port       int
	startedAt  time.Time

	registry    *session.Registry
	preview     *core.FrameHub
	prober      Prober
	recordings  RecordingStore
	ptz         ptz.Controller
	clients     ClientCounter
	jpegQuality int

	// 핸들러
	websocketHandler func(http.ResponseWriter, *http.Request)
}

// ServerConfig는 API 서버 설정
type ServerConfig struct {
	Port        int
	Production  bool
	Logger      *zap.Logger
	Registry    *session.Registry
	Preview     *core.FrameHub
	Prober      Prober
	Recordings  RecordingStore
	PTZ         ptz.Controller
	Clients     ClientCounter
	JPEGQuality int

	WebSocketHandler func(http.ResponseWriter, *http.Request)
}

// ErrorResponse는 에러 응답
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// NewServer는 새로운 API 서버를 생성합니다
func NewServer(config ServerConfig) *Server {
	if !config.Production {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.PTZ == nil {
		config.PTZ = ptz.NewLogController(config.Logger)
	}
	if config.JPEGQuality <= 0 {
		config.JPEGQuality = 80
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(loggerMiddleware(config.Logger))

	server := &Server{
		logger:           config.Logger,
		router:           router,
		port:             config.Port,
		startedAt:        time.Now(),
		registry:         config.Registry,
		preview:          config.Preview,
		prober:           config.Prober,
		recordings:       config.Recordings,
		ptz:              config.PTZ,
		clients:          config.Clients,
		jpegQuality:      config.JPEGQuality,
		websocketHandler: config.WebSocketHandler,
	}

	server.setupRoutes()

	return server
}

// setupRoutes는 라우트를 설정합니다
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/stats", s.handleStats)

		cameras := v1.Group("/cameras")
		{
			cameras.GET("", s.handleListCameras)
			cameras.POST("", s.handleAddCamera)
			cameras.GET("/:id", s.handleGetCamera)
			cameras.PUT("/:id", s.handleUpdateCamera)
			cameras.DELETE("/:id", s.handleDeleteCamera)

			cameras.POST("/:id/start", s.handleStartCamera)
			cameras.POST("/:id/stop", s.handleStopCamera)
			cameras.POST("/:id/record", s.handleRecord)
			cameras.POST("/:id/snapshot", s.handleSnapshot)
			cameras.PUT("/:id/audio", s.handleAudio)
			cameras.POST("/:id/ptz", s.handlePTZ)
			cameras.GET("/:id/frame", s.handleFrame)
			cameras.GET("/:id/preview", s.handlePreview)
		}

		v1.POST("/recording/toggle-all", s.handleToggleAll)
		v1.POST("/probe", s.handleProbe)

		v1.GET("/recordings", s.handleListRecordings)
		v1.GET("/recordings/:id", s.handleGetRecording)
		v1.DELETE("/recordings/:id", s.handleDeleteRecording)
	}

	// WebSocket 알림/명령 채널
	if s.websocketHandler != nil {
		s.router.GET("/ws", gin.WrapF(s.websocketHandler))
	}
}

// Handler는 라우터를 http.Handler로 반환합니다
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start는 API 서버를 시작합니다
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	// MJPEG 프리뷰 응답은 클라이언트가 끊을 때까지 이어지므로 WriteTimeout을 두지 않음
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("Starting API server",
		zap.String("addr", addr),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop은 API 서버를 종료합니다
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return s.httpServer.Close()
		}
	}

	return nil
}

// handleHealth는 헬스 체크를 처리합니다
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"time":      time.Now().UTC(),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"cameras":   stats.Cameras,
		"recording": stats.Recording,
	})
}

// handleStats는 서버 통계를 반환합니다
func (s *Server) handleStats(c *gin.Context) {
	stats := s.registry.Stats()
	response := gin.H{
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"cameras":        stats.Cameras,
		"states":         stats.States,
		"recording":      stats.Recording,
		"dropped_events": stats.DroppedEvents,
		"clients":        0,
	}
	if s.clients != nil {
		response["clients"] = s.clients.GetClientCount()
		response["dropped_messages"] = s.clients.DroppedMessages()
	}
	if s.recordings != nil {
		if count, err := s.recordings.Count(); err == nil {
			response["recordings"] = count
		}
	}
	if s.preview != nil {
		feeds := gin.H{}
		for _, sess := range s.registry.List() {
			if feed, ok := s.preview.Lookup(sess.ID()); ok {
				feeds[sess.ID()] = feed.Stats()
			}
		}
		response["preview"] = feeds
	}
	c.JSON(http.StatusOK, response)
}

// writeError는 에러 분류에 맞는 HTTP 상태 코드로 응답합니다
func (s *Server) writeError(c *gin.Context, err error) {
	kind := core.ErrorKind(err)

	status := http.StatusInternalServerError
	switch kind {
	case "config", "connect":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "duplicate", "not_running":
		status = http.StatusConflict
	case "read":
		status = http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}

	c.JSON(status, ErrorResponse{
		Error:   kind,
		Message: err.Error(),
	})
}

// corsMiddleware는 CORS 미들웨어입니다
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// loggerMiddleware는 로깅 미들웨어입니다
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
